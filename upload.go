package csvbook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nao1215/csvbook/domain/model"
)

// PreviewFile returns the header and the first preview rows of a CSV file.
func (w *Workspace) PreviewFile(ctx context.Context, path string) (*model.ResultSet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.engine.PreviewCSV(ctx, path, w.previewRows)
}

// SyncToDataDir writes table to the data folder as "{table}.csv".
func (w *Workspace) SyncToDataDir(ctx context.Context, table string) (string, error) {
	return w.ExportTable(ctx, table, w.dataDir, model.NewExportOptions())
}

// ReceiveUpload saves an uploaded CSV file into the data folder and registers
// it as pending. Pending uploads are keyed by their saved file name, so an
// upload saved to the same file as a pending one ("a b.csv" and "a_b.csv")
// replaces it.
func (s *Session) ReceiveUpload(ctx context.Context, fileName string, size int64, r io.Reader) (*model.PendingUpload, error) {
	ws := s.ws
	if err := ws.validator.validateUpload(fileName, size); err != nil {
		return nil, err
	}
	safe, err := safeFileName(fileName)
	if err != nil {
		return nil, err
	}
	table, err := model.SanitizeTableName(fileName)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(ws.dataDir, safe)
	if err := saveUpload(path, r, ws.validator.maxUploadBytes); err != nil {
		return nil, NewErrorContext("save upload", path).Error(err)
	}

	preview, err := ws.PreviewFile(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return nil, &IngestionError{Table: table, Path: path, Err: err}
	}

	upload := &model.PendingUpload{
		FileName:  fileName,
		Path:      path,
		Columns:   preview.Columns,
		Preview:   preview,
		TableName: table,
	}
	s.mu.Lock()
	s.pending[safe] = upload
	s.mu.Unlock()
	ws.logger.InfoContext(ctx, "upload saved", "event", "upload", "file", fileName, "path", path)

	cp := *upload
	return &cp, nil
}

func saveUpload(path string, r io.Reader, limit int64) error {
	f, err := os.Create(path) //nolint:gosec // name sanitized by safeFileName
	if err != nil {
		return err
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > limit {
		err = ErrFileTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return err
}

// PendingUploads returns the pending uploads sorted by file name.
func (s *Session) PendingUploads() []model.PendingUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PendingUpload, 0, len(s.pending))
	for _, u := range s.pending {
		out = append(out, *u)
	}
	slices.SortFunc(out, func(a, b model.PendingUpload) int { return strings.Compare(a.FileName, b.FileName) })
	return out
}

// takePending returns the pending upload saved for fileName and its key.
func (s *Session) takePending(fileName string) (*model.PendingUpload, string, error) {
	key, err := safeFileName(fileName)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUploadNotFound, fileName)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.pending[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUploadNotFound, fileName)
	}
	return u, key, nil
}

// QuickIngest loads a pending upload under its default table name.
func (s *Session) QuickIngest(ctx context.Context, fileName string) (string, error) {
	return s.CommitUpload(ctx, fileName, "", nil)
}

// CommitUpload loads a pending upload into tableName (the default name when
// empty) with the given column renames and forgets the upload. When the table
// no longer matches the saved file, by name or by columns, it is also written
// to the data folder as "{table}.csv". On failure the upload stays pending.
func (s *Session) CommitUpload(ctx context.Context, fileName, tableName string, renames map[string]string) (string, error) {
	u, key, err := s.takePending(fileName)
	if err != nil {
		return "", err
	}
	if tableName == "" {
		tableName = u.TableName
	}

	table, err := s.ws.IngestFileWithOptions(ctx, u.Path, IngestOptions{TableName: tableName, Renames: renames})
	if err != nil {
		return "", err
	}
	if derived, _ := model.TableFromFilePath(u.Path); len(renames) > 0 || table != derived {
		if _, err := s.ws.SyncToDataDir(ctx, table); err != nil {
			s.ws.logger.WarnContext(ctx, "cannot write table to data folder",
				"event", "sync_warning", "table", table, "error", err)
		}
	}

	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
	return table, nil
}

// DiscardUpload forgets a pending upload and deletes its saved file.
func (s *Session) DiscardUpload(fileName string) error {
	u, key, err := s.takePending(fileName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
	if err := os.Remove(u.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ClearUploads discards every pending upload.
func (s *Session) ClearUploads() error {
	var errs []error
	for _, u := range s.PendingUploads() {
		if err := s.DiscardUpload(u.FileName); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
