package csvbook

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nao1215/csvbook/domain/model"
	"github.com/nao1215/csvbook/engine"
)

// indexHints are the column name fragments that get an index after ingestion.
var indexHints = []string{"id", "num", "phone", "email", "code", "key"}

// IngestOptions configures an explicit import.
type IngestOptions struct {
	// TableName overrides the name derived from the file name. It must be a
	// valid identifier; it is not sanitized.
	TableName string
	// Renames maps header names to new column names. Columns not listed keep
	// their names.
	Renames map[string]string
	// Columns, when set, selects and orders the loaded columns by header name.
	Columns []string
}

// Pipeline turns CSV files into indexed, snapshotted tables.
type Pipeline struct {
	engine      engine.Engine
	snapshotter *Snapshotter
	validator   *validator
	logger      *slog.Logger
}

// NewPipeline returns a pipeline loading into eng and recording schemas with snapshotter.
func NewPipeline(eng engine.Engine, snapshotter *Snapshotter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		engine:      eng,
		snapshotter: snapshotter,
		validator:   newValidator(0),
		logger:      logger,
	}
}

// Ingest loads the CSV file at path into the table named after the file and
// returns the table name.
//
// Ingest is destructive-idempotent: a table of the same name is replaced.
// When the load fails the previous table is left as it was.
func (p *Pipeline) Ingest(ctx context.Context, path string) (string, error) {
	return p.IngestWithOptions(ctx, path, IngestOptions{})
}

// IngestWithOptions is Ingest with an explicit table name and column renames.
func (p *Pipeline) IngestWithOptions(ctx context.Context, path string, opts IngestOptions) (string, error) {
	if err := p.validator.validateSource(path); err != nil {
		return "", err
	}

	table := opts.TableName
	if table == "" {
		derived, err := model.TableFromFilePath(path)
		if err != nil {
			return "", err
		}
		table = derived
	} else if err := model.ValidateTableName(table); err != nil {
		return "", err
	}

	columns, err := p.projection(ctx, path, opts)
	if err != nil {
		return "", &IngestionError{Table: table, Path: path, Err: err}
	}
	if err := p.engine.LoadCSV(ctx, table, path, engine.LoadOptions{Columns: columns}); err != nil {
		return "", &IngestionError{Table: table, Path: path, Err: err}
	}
	p.logger.InfoContext(ctx, "table loaded", "event", "ingest", "table", table, "path", path)

	p.indexTable(ctx, table)
	p.snapshotter.Snapshot(ctx, table)
	return table, nil
}

// projection turns opts into an engine projection. Renames without an
// explicit column list apply to the file header in order.
func (p *Pipeline) projection(ctx context.Context, path string, opts IngestOptions) ([]engine.Projection, error) {
	columns := opts.Columns
	if len(columns) == 0 {
		if len(opts.Renames) == 0 {
			return nil, nil
		}
		preview, err := p.engine.PreviewCSV(ctx, path, 0)
		if err != nil {
			return nil, err
		}
		columns = preview.Columns
	}
	cols := make([]engine.Projection, len(columns))
	for i, c := range columns {
		cols[i] = engine.Projection{Source: c, Target: opts.Renames[c]}
	}
	return cols, nil
}

// indexTable creates an index on every column whose lowercase name contains
// an index hint. Failures are logged and ignored.
func (p *Pipeline) indexTable(ctx context.Context, table string) {
	columns, err := p.engine.Describe(ctx, table)
	if err != nil {
		p.logger.WarnContext(ctx, "cannot inspect columns for indexing",
			"event", "index_warning", "table", table, "error", err)
		return
	}
	for _, c := range columns {
		if !wantsIndex(c.Name) {
			continue
		}
		if err := p.engine.CreateIndex(ctx, table, c.Name); err != nil {
			p.logger.WarnContext(ctx, "index creation failed",
				"event", "index_warning", "table", table, "column", c.Name, "error", err)
		}
	}
}

func wantsIndex(column string) bool {
	lower := strings.ToLower(column)
	for _, hint := range indexHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
