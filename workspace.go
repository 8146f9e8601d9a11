package csvbook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nao1215/csvbook/domain/model"
	"github.com/nao1215/csvbook/engine"
)

// Workspace is a database of CSV-backed tables together with its data folder
// and schema history. Operations are serialized; a Workspace is safe for use
// by multiple goroutines.
type Workspace struct {
	mu sync.Mutex

	engine        engine.Engine
	pipeline      *Pipeline
	snapshots     *Snapshotter
	validator     *validator
	dataDir       string
	macros        []model.Macro
	maxResultRows int
	previewRows   int
	logger        *slog.Logger
}

// Engine returns the underlying engine.
func (w *Workspace) Engine() engine.Engine { return w.engine }

// Standby reports whether the database file was unavailable and the
// workspace runs on a transient in-memory database.
func (w *Workspace) Standby() bool { return w.engine.Standby() }

// DataDir returns the data folder.
func (w *Workspace) DataDir() string { return w.dataDir }

// Macros returns the macro set in declaration order.
func (w *Workspace) Macros() []model.Macro {
	return append([]model.Macro(nil), w.macros...)
}

// Close closes the engine.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.engine.Close()
}

// IngestFile loads the CSV file at path into the table named after the file.
// It replaces an existing table of that name.
func (w *Workspace) IngestFile(ctx context.Context, path string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pipeline.Ingest(ctx, path)
}

// IngestFileWithOptions loads path with an explicit table name and column renames.
func (w *Workspace) IngestFileWithOptions(ctx context.Context, path string, opts IngestOptions) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pipeline.IngestWithOptions(ctx, path, opts)
}

// ScanFolder ingests the CSV files of dir whose tables do not exist yet. It
// never replaces a table. An empty dir scans the data folder.
func (w *Workspace) ScanFolder(ctx context.Context, dir string) ([]string, error) {
	if dir == "" {
		dir = w.dataDir
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pipeline.ScanAndIngest(ctx, dir)
}

// ListTables returns the table names sorted by name.
func (w *Workspace) ListTables(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.engine.ListTables(ctx)
}

// Describe returns the columns of table.
func (w *Workspace) Describe(ctx context.Context, table string) ([]model.Column, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.engine.Describe(ctx, table)
}

// DropTable drops table and deletes the CSV files of the data folder whose
// derived table name is table.
func (w *Workspace) DropTable(ctx context.Context, table string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := model.ValidateTableName(table); err != nil {
		return err
	}
	exists, err := w.engine.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err := w.engine.DropTable(ctx, table); err != nil {
		return NewErrorContext("drop table", "").WithTable(table).Error(err)
	}

	removed, err := w.removeBackingFiles(table)
	if err != nil {
		w.logger.WarnContext(ctx, "cannot remove backing file", "table", table, "error", err)
	}
	w.logger.InfoContext(ctx, "table dropped", "event", "drop", "table", table, "removed", removed)
	return nil
}

// removeBackingFiles removes the data folder files that map to table.
func (w *Workspace) removeBackingFiles(table string) ([]string, error) {
	entries, err := os.ReadDir(w.dataDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !model.IsSupportedFile(e.Name()) {
			continue
		}
		name, err := model.TableFromFilePath(e.Name())
		if err != nil || name != table {
			continue
		}
		path := filepath.Join(w.dataDir, e.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

// Query expands macros in query, runs it and returns at most the configured
// number of rows. Engine errors are returned as *QueryError.
func (w *Workspace) Query(ctx context.Context, query string) (*model.ResultSet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.query(ctx, query)
}

func (w *Workspace) query(ctx context.Context, query string) (*model.ResultSet, error) {
	expanded := model.ExpandMacrosWith(query, w.macros)
	result, err := w.engine.Query(ctx, expanded, w.maxResultRows)
	if err != nil {
		return nil, newQueryError(expanded, err)
	}
	return result, nil
}

// ListSnapshots returns schema snapshot ids, newest first. A non-empty table
// restricts the listing to that table.
func (w *Workspace) ListSnapshots(table string) ([]string, error) {
	return w.snapshots.List(table)
}

// LoadSnapshot returns the schema snapshot with the given id.
func (w *Workspace) LoadSnapshot(id string) (*model.SchemaSnapshot, error) {
	return w.snapshots.Load(id)
}
