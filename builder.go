package csvbook

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/nao1215/csvbook/domain/model"
	"github.com/nao1215/csvbook/engine"
)

// Defaults applied by NewBuilder.
const (
	DefaultDatabasePath  = "metadata.db"
	DefaultDataDir       = "data"
	DefaultSchemaDir     = "schemas"
	DefaultThreads       = 4
	DefaultMemoryLimit   = "10GB"
	DefaultMaxResultRows = 10000
	DefaultPreviewRows   = 10
)

// Builder configures and opens a Workspace.
//
// The typical usage pattern is:
//
//	ws, err := csvbook.NewBuilder().
//		WithDataDir("data").
//		WithAutoScan(true).
//		Open(ctx)
//	if err != nil {
//		return err
//	}
//	defer ws.Close()
type Builder struct {
	kind           engine.Kind
	databasePath   string
	dataDir        string
	schemaDir      string
	threads        int
	memoryLimit    string
	maxUploadBytes int64
	maxResultRows  int
	previewRows    int
	macros         []model.Macro
	autoScan       bool
	logger         *slog.Logger
}

// NewBuilder returns a builder with the default settings: DuckDB on
// "metadata.db", data folder "data" and schema history in "schemas".
func NewBuilder() *Builder {
	return &Builder{
		kind:           engine.KindDuckDB,
		databasePath:   DefaultDatabasePath,
		dataDir:        DefaultDataDir,
		schemaDir:      DefaultSchemaDir,
		threads:        DefaultThreads,
		memoryLimit:    DefaultMemoryLimit,
		maxUploadBytes: DefaultMaxUploadBytes,
		maxResultRows:  DefaultMaxResultRows,
		previewRows:    DefaultPreviewRows,
		macros:         model.DefaultMacros(),
	}
}

// WithEngine selects the engine kind.
func (b *Builder) WithEngine(kind engine.Kind) *Builder {
	b.kind = kind
	return b
}

// WithDatabase sets the database file. The empty string opens an in-memory database.
func (b *Builder) WithDatabase(path string) *Builder {
	b.databasePath = path
	return b
}

// WithDataDir sets the data folder that is scanned and receives uploads.
func (b *Builder) WithDataDir(dir string) *Builder {
	b.dataDir = dir
	return b
}

// WithSchemaDir sets the schema history folder.
func (b *Builder) WithSchemaDir(dir string) *Builder {
	b.schemaDir = dir
	return b
}

// WithThreads sets the engine thread count.
func (b *Builder) WithThreads(n int) *Builder {
	b.threads = n
	return b
}

// WithMemoryLimit sets the engine memory limit, e.g. "4GB".
func (b *Builder) WithMemoryLimit(limit string) *Builder {
	b.memoryLimit = limit
	return b
}

// WithMaxUploadBytes sets the upload size limit.
func (b *Builder) WithMaxUploadBytes(n int64) *Builder {
	b.maxUploadBytes = n
	return b
}

// WithMaxResultRows caps the rows materialized per query. Zero disables the cap.
func (b *Builder) WithMaxResultRows(n int) *Builder {
	b.maxResultRows = n
	return b
}

// WithPreviewRows sets the number of rows shown for pending uploads.
func (b *Builder) WithPreviewRows(n int) *Builder {
	b.previewRows = n
	return b
}

// WithMacros replaces the macro set.
func (b *Builder) WithMacros(macros []model.Macro) *Builder {
	b.macros = macros
	return b
}

// WithAutoScan makes Open ingest the data folder.
func (b *Builder) WithAutoScan(enabled bool) *Builder {
	b.autoScan = enabled
	return b
}

// WithLogger sets the logger. Nil discards logs.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) validate() error {
	if _, err := engine.ParseKind(string(b.kind)); err != nil {
		return err
	}
	if b.dataDir == "" {
		return errors.New("data directory cannot be empty")
	}
	if b.schemaDir == "" {
		return errors.New("schema directory cannot be empty")
	}
	if b.maxResultRows < 0 || b.previewRows < 0 {
		return errors.New("row limits cannot be negative")
	}
	return nil
}

// Open opens the engine, prepares the data and schema folders and, when auto
// scan is enabled, ingests the data folder. Auto scan failures are logged; they
// do not fail Open.
func (b *Builder) Open(ctx context.Context) (*Workspace, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	for _, dir := range []string{b.dataDir, b.schemaDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, NewErrorContext("open workspace", dir).Error(err)
		}
	}

	eng, err := engine.Open(ctx, b.kind, engine.Config{
		Path:        b.databasePath,
		Threads:     b.threads,
		MemoryLimit: b.memoryLimit,
		Logger:      logger,
	})
	if err != nil {
		return nil, NewErrorContext("open workspace", b.databasePath).Error(err)
	}

	snapshotter := NewSnapshotter(eng, b.schemaDir, logger)
	w := &Workspace{
		engine:        eng,
		pipeline:      NewPipeline(eng, snapshotter, logger),
		snapshots:     snapshotter,
		validator:     newValidator(b.maxUploadBytes),
		dataDir:       b.dataDir,
		macros:        b.macros,
		maxResultRows: b.maxResultRows,
		previewRows:   b.previewRows,
		logger:        logger,
	}

	if b.autoScan {
		tables, err := w.ScanFolder(ctx, b.dataDir)
		if err != nil {
			logger.WarnContext(ctx, "auto-ingest finished with errors", "event", "scan_error", "error", err)
		}
		logger.InfoContext(ctx, "auto-ingest finished", "event", "scan", "dir", b.dataDir, "tables", tables)
	}
	return w, nil
}
