package engine

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/nao1215/csvbook/domain/model"
)

type sqliteEngine struct {
	sqlEngine
	chunkSize int
}

var _ Engine = (*sqliteEngine)(nil)

// defaultChunkSize is the number of CSV rows inserted per batch.
const defaultChunkSize = 1000

func openSQLite(ctx context.Context, cfg Config) (*sqliteEngine, error) {
	db, err := openSQLitePath(ctx, cfg.Path)
	standby := false
	if err != nil {
		if cfg.Path == "" {
			return nil, err
		}
		cfg.Logger.Warn("database unavailable, using in-memory standby",
			"event", "standby", "path", cfg.Path, "error", err)
		if db, err = openSQLitePath(ctx, ""); err != nil {
			return nil, err
		}
		standby = true
	}
	if cfg.Threads > 0 || cfg.MemoryLimit != "" {
		cfg.Logger.Debug("sqlite ignores threads and memory_limit",
			"threads", cfg.Threads, "memory_limit", cfg.MemoryLimit)
	}
	return &sqliteEngine{
		sqlEngine: sqlEngine{db: db, standby: standby, logger: cfg.Logger},
		chunkSize: defaultChunkSize,
	}, nil
}

func openSQLitePath(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// every connection of ":memory:" is a separate database
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path != "" {
		// fails on a file that is locked or not a database
		if _, err := db.ExecContext(ctx, "PRAGMA schema_version"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open sqlite %q: %w", path, err)
		}
	}
	return db, nil
}

func (e *sqliteEngine) Kind() Kind { return KindSQLite }

func (e *sqliteEngine) ListTables(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (e *sqliteEngine) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := e.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	return n > 0, err
}

func (e *sqliteEngine) Describe(ctx context.Context, table string) ([]model.Column, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name, type, "notnull" FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []model.Column
	for rows.Next() {
		var c model.Column
		var notNull int
		if err := rows.Scan(&c.Name, &c.Type, &notNull); err != nil {
			return nil, err
		}
		c.Nullable = notNull == 0
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return columns, nil
}

func (e *sqliteEngine) ReplaceTable(ctx context.Context, table string, columns []Projection) error {
	return e.replaceTable(ctx, table, columns)
}
