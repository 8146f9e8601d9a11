package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nao1215/csvbook"
	"github.com/nao1215/csvbook/domain/model"
)

// --- workspace ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"engine":  s.ws.Engine().Kind(),
		"standby": s.ws.Standby(),
	})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.ws.ListTables(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	table := pathParam(r, "table")
	columns, err := s.ws.Describe(r.Context(), table)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, csvbook.TableSchema{Name: table, Columns: columns})
}

func (s *Server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.DropTable(r.Context(), pathParam(r, "table")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type schemaEditRequest struct {
	Edits []model.ColumnEdit `json:"edits"`
}

func (s *Server) handleEditSchema(w http.ResponseWriter, r *http.Request) {
	var req schemaEditRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	table := pathParam(r, "table")
	if err := s.ws.EditSchema(r.Context(), table, req.Edits); err != nil {
		s.writeError(w, r, err)
		return
	}
	columns, err := s.ws.Describe(r.Context(), table)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, csvbook.TableSchema{Name: table, Columns: columns})
}

// handleExportTable streams the table as a file download. The format and
// compression query parameters select the file type.
func (s *Server) handleExportTable(w http.ResponseWriter, r *http.Request) {
	format, err := model.ParseOutputFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	compression, err := model.ParseCompressionType(r.URL.Query().Get("compression"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	dir, err := os.MkdirTemp("", "csvbook-export-*")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer os.RemoveAll(dir)

	opts := model.NewExportOptions().WithFormat(format).WithCompression(compression)
	path, err := s.ws.ExportTable(r.Context(), pathParam(r, "table"), dir, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := os.Open(path) //nolint:gosec // path is built by ExportTable inside dir
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	if _, err := io.Copy(w, f); err != nil {
		s.logger.WarnContext(r.Context(), "export download interrupted", "event", "http_error", "error", err)
	}
}

// handleScan ingests the data folder additively.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	tables, err := s.ws.ScanFolder(r.Context(), s.ws.DataDir())
	resp := map[string]any{"tables": tables}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchemaTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.ws.SchemaTree(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tree})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	ids, err := s.ws.ListSnapshots(r.URL.Query().Get("table"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": ids})
}

func (s *Server) handleLoadSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ws.LoadSnapshot(pathParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMacros(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"macros": s.ws.Macros()})
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.ws.Query(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type completionRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ws.Completer(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	suggestions, word := c.Complete(req.Text)
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions, "word": word})
}

// --- uploads ---

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"uploads": sessionFrom(r).PendingUploads()})
}

// handleReceiveUpload reads the "file" part of a multipart body. The request
// length stands in for the declared file size.
func (s *Server) handleReceiveUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			s.writeError(w, r, fmt.Errorf("%w: missing file part", errBadRequest))
			return
		}
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		upload, err := sessionFrom(r).ReceiveUpload(r.Context(), part.FileName(), r.ContentLength, part)
		_ = part.Close()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, upload)
		return
	}
}

func (s *Server) handleQuickIngest(w http.ResponseWriter, r *http.Request) {
	table, err := sessionFrom(r).QuickIngest(r.Context(), pathParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"table": table})
}

type commitRequest struct {
	Table   string            `json:"table"`
	Renames map[string]string `json:"renames"`
}

func (s *Server) handleCommitUpload(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	table, err := sessionFrom(r).CommitUpload(r.Context(), pathParam(r, "name"), req.Table, req.Renames)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"table": table})
}

func (s *Server) handleDiscardUpload(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).DiscardUpload(pathParam(r, "name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearUploads(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).ClearUploads(); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- notebooks ---

type notebookRequest struct {
	Name string `json:"name"`
}

type notebooksResponse struct {
	Notebooks []string `json:"notebooks"`
	Current   string   `json:"current"`
}

func notebooks(sess *csvbook.Session) notebooksResponse {
	return notebooksResponse{Notebooks: sess.Notebooks(), Current: sess.Current()}
}

func (s *Server) handleListNotebooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, notebooks(sessionFrom(r)))
}

func (s *Server) handleCreateNotebook(w http.ResponseWriter, r *http.Request) {
	var req notebookRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := sessionFrom(r)
	if err := sess.CreateNotebook(req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, notebooks(sess))
}

func (s *Server) handleSelectNotebook(w http.ResponseWriter, r *http.Request) {
	var req notebookRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := sessionFrom(r)
	if err := sess.SelectNotebook(req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notebooks(sess))
}

func (s *Server) handleGetNotebook(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "current" {
		name = ""
	}
	nb, err := sessionFrom(r).Notebook(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

func (s *Server) handleDeleteNotebook(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := sess.DeleteNotebook(pathParam(r, "name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notebooks(sess))
}

// --- cells of the current notebook ---

func cellID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return 0, fmt.Errorf("%w: cell id: %w", errBadRequest, err)
	}
	return id, nil
}

func (s *Server) handleAddCell(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, sessionFrom(r).AddCell(req.Query))
}

func (s *Server) handleSetCell(w http.ResponseWriter, r *http.Request) {
	id, err := cellID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req queryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sessionFrom(r).SetCellQuery(id, req.Query); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCell(w http.ResponseWriter, r *http.Request) {
	id, err := cellID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sessionFrom(r).DeleteCell(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunCell answers 200 even when the query failed; the failure is part
// of the returned cell.
func (s *Server) handleRunCell(w http.ResponseWriter, r *http.Request) {
	id, err := cellID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cell, err := sessionFrom(r).RunCell(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	cells, err := sessionFrom(r).RunAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cells": cells})
}

// --- common value finder ---

func (s *Server) handleCommonColumns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	common, def, err := s.ws.CommonColumns(r.Context(), q.Get("a"), q.Get("b"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"common": common, "default": def})
}

type finderRequest struct {
	TableA        string `json:"table_a"`
	ColumnA       string `json:"column_a"`
	TableB        string `json:"table_b"`
	ColumnB       string `json:"column_b"`
	AddToNotebook bool   `json:"add_to_notebook"`
}

type finderResponse struct {
	*csvbook.CommonValues
	Cell *model.Cell `json:"cell,omitempty"`
}

func (s *Server) handleFindCommonValues(w http.ResponseWriter, r *http.Request) {
	var req finderRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cv, err := s.ws.FindCommonValues(r.Context(), req.TableA, req.ColumnA, req.TableB, req.ColumnB)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := finderResponse{CommonValues: cv}
	if req.AddToNotebook {
		resp.Cell = sessionFrom(r).AddFinding(cv)
	}
	writeJSON(w, http.StatusOK, resp)
}
