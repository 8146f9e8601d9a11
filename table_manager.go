package csvbook

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/nao1215/csvbook/domain/model"
	"github.com/nao1215/csvbook/engine"
)

// TableSchema is a table with its ordered columns.
type TableSchema struct {
	Name    string         `json:"name"`
	Columns []model.Column `json:"columns"`
}

// EditSchema reshapes table: kept columns are renamed and ordered by Pos,
// the others are dropped. Columns without an edit keep their name and
// their ordinal position. The table is rebuilt, written back to the data
// folder as "{table}.csv", re-indexed and snapshotted.
func (w *Workspace) EditSchema(ctx context.Context, table string, edits []model.ColumnEdit) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	errCtx := NewErrorContext("edit schema", "").WithTable(table)
	columns, err := w.engine.Describe(ctx, table)
	if err != nil {
		return errCtx.Error(err)
	}

	projection, err := planEdits(columns, edits)
	if err != nil {
		return errCtx.Error(err)
	}
	if err := w.engine.ReplaceTable(ctx, table, projection); err != nil {
		return errCtx.Error(err)
	}

	if _, err := w.exportTable(ctx, table, w.dataDir, model.NewExportOptions()); err != nil {
		w.logger.WarnContext(ctx, "cannot write table back to data folder",
			"event", "sync_warning", "table", table, "error", err)
	}
	w.pipeline.indexTable(ctx, table)
	w.snapshots.Snapshot(ctx, table)
	w.logger.InfoContext(ctx, "schema edited", "event", "edit_schema", "table", table, "columns", len(projection))
	return nil
}

// planEdits turns column edits into a projection over columns.
func planEdits(columns []model.Column, edits []model.ColumnEdit) ([]engine.Projection, error) {
	byName := make(map[string]model.ColumnEdit, len(edits))
	for _, e := range edits {
		if !slices.ContainsFunc(columns, func(c model.Column) bool { return c.Name == e.Old }) {
			return nil, fmt.Errorf("%w: %s", engine.ErrUnknownColumn, e.Old)
		}
		byName[e.Old] = e
	}

	plan := make([]model.ColumnEdit, 0, len(columns))
	for i, c := range columns {
		e, ok := byName[c.Name]
		if !ok {
			e = model.ColumnEdit{Old: c.Name, Keep: true, Pos: i}
		}
		if e.Keep {
			plan = append(plan, e)
		}
	}
	if len(plan) == 0 {
		return nil, engine.ErrNoColumns
	}
	slices.SortStableFunc(plan, func(a, b model.ColumnEdit) int { return a.Pos - b.Pos })

	projection := make([]engine.Projection, len(plan))
	targets := make([]string, len(plan))
	for i, e := range plan {
		target := strings.TrimSpace(e.Target())
		projection[i] = engine.Projection{Source: e.Old, Target: target}
		targets[i] = target
	}
	if err := model.ValidateColumnNames(targets); err != nil {
		return nil, err
	}
	return projection, nil
}

// SchemaTree returns every table with its columns. A non-empty search keeps,
// case-insensitively, tables whose name contains it with all their columns,
// and otherwise only the columns whose name contains it.
func (w *Workspace) SchemaTree(ctx context.Context, search string) ([]TableSchema, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.schemaTree(ctx, search)
}

func (w *Workspace) schemaTree(ctx context.Context, search string) ([]TableSchema, error) {
	tables, err := w.engine.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	search = strings.ToLower(strings.TrimSpace(search))

	tree := make([]TableSchema, 0, len(tables))
	for _, t := range tables {
		columns, err := w.engine.Describe(ctx, t)
		if err != nil {
			return nil, err
		}
		if search != "" && !strings.Contains(strings.ToLower(t), search) {
			columns = slices.DeleteFunc(columns, func(c model.Column) bool {
				return !strings.Contains(strings.ToLower(c.Name), search)
			})
			if len(columns) == 0 {
				continue
			}
		}
		tree = append(tree, TableSchema{Name: t, Columns: columns})
	}
	return tree, nil
}
