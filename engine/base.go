package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/nao1215/csvbook/domain/model"
)

// sqlEngine holds the database/sql plumbing shared by both engines.
type sqlEngine struct {
	db      *sql.DB
	standby bool
	logger  *slog.Logger
}

func (e *sqlEngine) DB() *sql.DB   { return e.db }
func (e *sqlEngine) Standby() bool { return e.standby }
func (e *sqlEngine) Close() error  { return e.db.Close() }

func (e *sqlEngine) Exec(ctx context.Context, query string, args ...any) error {
	_, err := e.db.ExecContext(ctx, query, args...)
	return err
}

func (e *sqlEngine) Query(ctx context.Context, query string, maxRows int) (*model.ResultSet, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResultSet(rows, maxRows)
}

func (e *sqlEngine) CreateIndex(ctx context.Context, table, column string) error {
	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		QuoteIdent(IndexName(table, column)), QuoteIdent(table), QuoteIdent(column))
	return e.Exec(ctx, query)
}

func (e *sqlEngine) DropTable(ctx context.Context, table string) error {
	return e.Exec(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table))
}

// swapTable builds staging with build, then replaces table with it in one
// transaction.
func (e *sqlEngine) swapTable(ctx context.Context, table, staging string, build func(tx *sql.Tx) error) (err error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(staging)); err != nil {
		return err
	}
	if err = build(tx); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table)); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", QuoteIdent(staging), QuoteIdent(table))); err != nil {
		return err
	}
	return tx.Commit()
}

// replaceTable rebuilds table from a projection of its columns.
func (e *sqlEngine) replaceTable(ctx context.Context, table string, columns []Projection) error {
	if len(columns) == 0 {
		return ErrNoColumns
	}
	staging := table + "__rebuild"
	return e.swapTable(ctx, table, staging, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT %s FROM %s",
			QuoteIdent(staging), selectList(columns), QuoteIdent(table)))
		return err
	})
}

// scanResultSet materializes rows. When maxRows is positive at most maxRows
// rows are kept and Truncated reports whether more were available.
func scanResultSet(rows *sql.Rows, maxRows int) (*model.ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	result := &model.ResultSet{
		Columns: columns,
		Types:   make([]string, len(types)),
		Rows:    [][]any{},
	}
	for i, ct := range types {
		result.Types[i] = ct.DatabaseTypeName()
	}

	for rows.Next() {
		if maxRows > 0 && len(result.Rows) == maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
