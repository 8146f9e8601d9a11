package engine

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"github.com/nao1215/csvbook/domain/model"
)

type duckEngine struct {
	sqlEngine
}

var _ Engine = (*duckEngine)(nil)

// openDuckDB opens cfg.Path. When the file cannot be opened, typically because
// another process holds its write lock, an in-memory database is used instead
// and the engine reports Standby.
func openDuckDB(ctx context.Context, cfg Config) (*duckEngine, error) {
	db, err := openDuckDBPath(ctx, cfg.Path)
	standby := false
	if err != nil {
		if cfg.Path == "" {
			return nil, err
		}
		cfg.Logger.Warn("database unavailable, using in-memory standby",
			"event", "standby", "path", cfg.Path, "error", err)
		db, err = openDuckDBPath(ctx, "")
		if err != nil {
			return nil, err
		}
		standby = true
	}

	e := &duckEngine{sqlEngine{db: db, standby: standby, logger: cfg.Logger}}
	if err := e.configure(ctx, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func openDuckDBPath(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	return db, nil
}

func (e *duckEngine) configure(ctx context.Context, cfg Config) error {
	settings := []string{"SET preserve_insertion_order = false"}
	if cfg.Threads > 0 {
		settings = append(settings, fmt.Sprintf("SET threads = %d", cfg.Threads))
	}
	if cfg.MemoryLimit != "" {
		settings = append(settings, "SET memory_limit = "+QuoteLiteral(cfg.MemoryLimit))
	}
	for _, s := range settings {
		if err := e.Exec(ctx, s); err != nil {
			return fmt.Errorf("configure duckdb (%s): %w", s, err)
		}
	}
	return nil
}

func (e *duckEngine) Kind() Kind { return KindDuckDB }

// duckCSVOptions pins the dialect so a malformed file fails instead of being
// sniffed as another layout. Column types are still detected.
const duckCSVOptions = `header = true, delim = ',', quote = '"', escape = '"', strict_mode = true`

// readCSV returns the read_csv table function call for source.
func readCSV(source string) string {
	return fmt.Sprintf("read_csv(%s, %s)", QuoteLiteral(source), duckCSVOptions)
}

// LoadCSV checks the file record by record, then loads it with read_csv.
// The table is replaced only when both succeed. gzip and zstd sources are
// read natively; other codecs are expanded to a temporary file first.
func (e *duckEngine) LoadCSV(ctx context.Context, table, path string, opts LoadOptions) error {
	if err := checkCSV(path); err != nil {
		return err
	}
	source, cleanup, err := duckReadablePath(path)
	if err != nil {
		return err
	}
	defer cleanup()

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT %s FROM %s",
		QuoteIdent(table), selectList(opts.Columns), readCSV(source))
	return e.Exec(ctx, query)
}

func (e *duckEngine) PreviewCSV(ctx context.Context, path string, n int) (*model.ResultSet, error) {
	source, cleanup, err := duckReadablePath(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return e.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", readCSV(source), n), 0)
}

func (e *duckEngine) ListTables(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_catalog = current_database() AND table_schema = current_schema()
		AND table_type = 'BASE TABLE' ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (e *duckEngine) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := e.db.QueryRowContext(ctx, `SELECT count(*) FROM information_schema.tables
		WHERE table_catalog = current_database() AND table_schema = current_schema()
		AND table_name = ?`, table).Scan(&n)
	return n > 0, err
}

func (e *duckEngine) Describe(ctx context.Context, table string) ([]model.Column, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_catalog = current_database() AND table_schema = current_schema()
		AND table_name = ? ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []model.Column
	for rows.Next() {
		var c model.Column
		var nullable string
		if err := rows.Scan(&c.Name, &c.Type, &nullable); err != nil {
			return nil, err
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
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

func (e *duckEngine) ReplaceTable(ctx context.Context, table string, columns []Projection) error {
	return e.replaceTable(ctx, table, columns)
}

// duckReadablePath returns a path read_csv can open for path.
func duckReadablePath(path string) (string, func(), error) {
	file := model.NewFile(path)
	switch file.Compression() {
	case model.CompressionNone, model.CompressionGZ, model.CompressionZSTD:
		return path, func() {}, nil
	}

	reader, closeReader, err := file.OpenReader()
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = closeReader() }()

	tmp, err := os.CreateTemp("", "csvbook-*"+model.ExtCSV)
	if err != nil {
		return "", nil, err
	}
	remove := func() { _ = os.Remove(tmp.Name()) }
	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		remove()
		return "", nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		remove()
		return "", nil, err
	}
	return tmp.Name(), remove, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
