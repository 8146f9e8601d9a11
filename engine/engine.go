package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nao1215/csvbook/domain/model"
)

// Kind names an engine implementation.
type Kind string

const (
	// KindDuckDB selects the DuckDB engine.
	KindDuckDB Kind = "duckdb"
	// KindSQLite selects the pure-Go SQLite engine.
	KindSQLite Kind = "sqlite"
)

// ParseKind converts an engine name to a Kind. The empty string selects DuckDB.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindDuckDB:
		return KindDuckDB, nil
	case KindSQLite:
		return KindSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, s)
	}
}

// Config holds the settings an engine is opened with.
type Config struct {
	// Path is the database file. Empty opens an in-memory database.
	Path string
	// Threads bounds engine parallelism. Zero keeps the engine default.
	Threads int
	// MemoryLimit is an engine memory cap such as "10GB". Empty keeps the default.
	MemoryLimit string
	// Logger receives engine notices. Nil discards them.
	Logger *slog.Logger
}

// Projection selects a source column into a target column name.
type Projection struct {
	Source string
	Target string
}

// Identity reports whether the projection keeps the column name.
func (p Projection) Identity() bool {
	return p.Target == "" || p.Target == p.Source
}

func (p Projection) target() string {
	if p.Target == "" {
		return p.Source
	}
	return p.Target
}

// LoadOptions tunes LoadCSV.
type LoadOptions struct {
	// Columns selects and renames file columns in order. Empty loads every
	// column under its header name.
	Columns []Projection
}

// Engine is an embedded SQL database holding csvbook tables.
//
// Implementations are not safe for concurrent writers; callers serialize.
type Engine interface {
	// Kind returns the engine kind.
	Kind() Kind
	// DB returns the underlying database handle.
	DB() *sql.DB
	// Standby reports whether the database file could not be opened and the
	// engine fell back to a transient in-memory database.
	Standby() bool

	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) error
	// Query runs query and materializes at most maxRows rows (0 means no limit).
	Query(ctx context.Context, query string, maxRows int) (*model.ResultSet, error)

	// LoadCSV creates or replaces table from the CSV file at path, inferring
	// column types. On failure any existing table of that name is unchanged.
	LoadCSV(ctx context.Context, table, path string, opts LoadOptions) error
	// PreviewCSV reads the header and up to n rows of the CSV file at path.
	PreviewCSV(ctx context.Context, path string, n int) (*model.ResultSet, error)

	// ListTables returns user table names sorted by name.
	ListTables(ctx context.Context) ([]string, error)
	// TableExists reports whether table exists.
	TableExists(ctx context.Context, table string) (bool, error)
	// Describe returns the columns of table in ordinal order.
	Describe(ctx context.Context, table string) ([]model.Column, error)

	// CreateIndex creates an index on table(column) unless it exists.
	CreateIndex(ctx context.Context, table, column string) error
	// DropTable drops table if it exists.
	DropTable(ctx context.Context, table string) error
	// ReplaceTable rebuilds table from the projection of its own columns.
	ReplaceTable(ctx context.Context, table string, columns []Projection) error

	// Close releases the database.
	Close() error
}

// Open opens an engine of the given kind.
func Open(ctx context.Context, kind Kind, cfg Config) (Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	switch kind {
	case KindDuckDB, "":
		return openDuckDB(ctx, cfg)
	case KindSQLite:
		return openSQLite(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, kind)
	}
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes an SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// IndexName returns the name of the index on table(column).
func IndexName(table, column string) string {
	return "idx_" + table + "_" + column
}

// selectList renders a projection as a select list. An empty projection
// selects every column.
func selectList(columns []Projection) string {
	if len(columns) == 0 {
		return "*"
	}
	parts := make([]string, len(columns))
	for i, c := range columns {
		if c.Identity() {
			parts[i] = QuoteIdent(c.Source)
			continue
		}
		parts[i] = QuoteIdent(c.Source) + " AS " + QuoteIdent(c.target())
	}
	return strings.Join(parts, ", ")
}
