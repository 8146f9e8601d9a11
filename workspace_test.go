package csvbook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/csvbook/domain/model"
	"github.com/nao1215/csvbook/engine"
)

const salesCSV = "id,user_id,amount\n1,10,9.5\n2,11,20\n3,10,7.25\n"

var testEngines = []engine.Kind{engine.KindDuckDB, engine.KindSQLite}

// newTestBuilder returns a builder over an in-memory SQLite database with its
// folders in a temporary directory.
func newTestBuilder(t *testing.T) (*Builder, string) {
	t.Helper()
	return newTestBuilderFor(t, engine.KindSQLite)
}

func newTestBuilderFor(t *testing.T, kind engine.Kind) (*Builder, string) {
	t.Helper()
	root := t.TempDir()
	b := NewBuilder().
		WithEngine(kind).
		WithDatabase("").
		WithDataDir(filepath.Join(root, DefaultDataDir)).
		WithSchemaDir(filepath.Join(root, DefaultSchemaDir))
	return b, root
}

func openWorkspace(t *testing.T, b *Builder) *Workspace {
	t.Helper()
	ws, err := b.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	b, _ := newTestBuilder(t)
	return openWorkspace(t, b)
}

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o750))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func countRows(t *testing.T, ws *Workspace, table string) int64 {
	t.Helper()
	result, err := ws.Query(context.Background(), "SELECT count(*) FROM "+engine.QuoteIdent(table))
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	return result.Rows[0][0].(int64)
}

func TestWorkspace_IngestFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("table is named after the file", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		path := writeCSV(t, t.TempDir(), "Sales Report (2024).csv", salesCSV)

		table, err := ws.IngestFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "sales_report_2024", table)

		tables, err := ws.ListTables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"sales_report_2024"}, tables)
		assert.Equal(t, int64(3), countRows(t, ws, table))

		columns, err := ws.Describe(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "user_id", "amount"}, model.ColumnNames(columns))
	})

	t.Run("re-ingesting replaces the table", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		path := writeCSV(t, t.TempDir(), "sales.csv", salesCSV)

		_, err := ws.IngestFile(ctx, path)
		require.NoError(t, err)
		_, err = ws.IngestFile(ctx, path)
		require.NoError(t, err)

		tables, err := ws.ListTables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"sales"}, tables)
		assert.Equal(t, int64(3), countRows(t, ws, "sales"))

		writeCSV(t, filepath.Dir(path), "sales.csv", "id,user_id,amount\n9,9,9\n")
		_, err = ws.IngestFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, int64(1), countRows(t, ws, "sales"))
	})

	t.Run("failed load keeps the previous table", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		dir := t.TempDir()
		path := writeCSV(t, dir, "sales.csv", salesCSV)
		_, err := ws.IngestFile(ctx, path)
		require.NoError(t, err)

		writeCSV(t, dir, "sales.csv", "id,id\n1,2\n")
		_, err = ws.IngestFile(ctx, path)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIngestion)

		var ie *IngestionError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, "sales", ie.Table)
		assert.Equal(t, path, ie.Path)

		assert.Equal(t, int64(3), countRows(t, ws, "sales"))
	})

	t.Run("missing source", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		_, err := ws.IngestFile(ctx, filepath.Join(t.TempDir(), "nope.csv"))
		assert.ErrorIs(t, err, ErrSourceNotFound)
	})

	t.Run("file name without usable characters", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		path := writeCSV(t, t.TempDir(), "().csv", salesCSV)
		_, err := ws.IngestFile(ctx, path)
		assert.ErrorIs(t, err, ErrInvalidName)
	})
}

func TestWorkspace_IngestFileWithOptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("explicit name and renames", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		path := writeCSV(t, t.TempDir(), "raw.csv", salesCSV)

		table, err := ws.IngestFileWithOptions(ctx, path, IngestOptions{
			TableName: "orders",
			Renames:   map[string]string{"amount": "total"},
		})
		require.NoError(t, err)
		assert.Equal(t, "orders", table)

		columns, err := ws.Describe(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "user_id", "total"}, model.ColumnNames(columns))
	})

	t.Run("column selection", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		path := writeCSV(t, t.TempDir(), "raw.csv", salesCSV)

		_, err := ws.IngestFileWithOptions(ctx, path, IngestOptions{Columns: []string{"amount", "id"}})
		require.NoError(t, err)

		columns, err := ws.Describe(ctx, "raw")
		require.NoError(t, err)
		assert.Equal(t, []string{"amount", "id"}, model.ColumnNames(columns))
	})

	t.Run("explicit name is validated, not sanitized", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		path := writeCSV(t, t.TempDir(), "raw.csv", salesCSV)

		_, err := ws.IngestFileWithOptions(ctx, path, IngestOptions{TableName: "bad name"})
		assert.ErrorIs(t, err, ErrInvalidName)
	})
}

func snapshotCount(t *testing.T, ws *Workspace, table string) int {
	t.Helper()
	ids, err := ws.ListSnapshots(table)
	require.NoError(t, err)
	return len(ids)
}

func indexNames(t *testing.T, ws *Workspace, table string) []string {
	t.Helper()
	query := "SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = " + engine.QuoteLiteral(table)
	if ws.Engine().Kind() == engine.KindDuckDB {
		query = "SELECT index_name FROM duckdb_indexes() WHERE table_name = " + engine.QuoteLiteral(table)
	}
	result, err := ws.Query(context.Background(), query)
	require.NoError(t, err)
	names := []string{}
	for _, row := range result.Rows {
		names = append(names, row[0].(string))
	}
	return names
}

func TestWorkspace_IngestFile_Engines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	malformed := map[string]string{
		"extra field":       "id,user_id,amount\n1,10,9.5\n2,11,20,99\n3,12,4\n",
		"missing field":     "id,user_id,amount\n1,10,9.5\n2,11\n",
		"unterminated":      "id,user_id,amount\n1,10,9.5\n2,11,\"abc\n3,12,4\n",
		"duplicate columns": "id,id\n1,2\n",
	}

	for _, kind := range testEngines {
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()

			t.Run("re-ingest keeps index hints", func(t *testing.T) {
				t.Parallel()
				b, _ := newTestBuilderFor(t, kind)
				ws := openWorkspace(t, b)
				dir := t.TempDir()
				path := writeCSV(t, dir, "sales.csv", salesCSV)

				_, err := ws.IngestFile(ctx, path)
				require.NoError(t, err)
				want := []string{engine.IndexName("sales", "id"), engine.IndexName("sales", "user_id")}
				assert.ElementsMatch(t, want, indexNames(t, ws, "sales"))

				writeCSV(t, dir, "sales.csv", "id,user_id,amount\n9,9,9\n")
				table, err := ws.IngestFile(ctx, path)
				require.NoError(t, err)
				assert.Equal(t, "sales", table)
				assert.Equal(t, int64(1), countRows(t, ws, "sales"))
				assert.ElementsMatch(t, want, indexNames(t, ws, "sales"))
				assert.Equal(t, 2, snapshotCount(t, ws, "sales"))
			})

			t.Run("malformed file keeps the table and writes no snapshot", func(t *testing.T) {
				t.Parallel()
				b, _ := newTestBuilderFor(t, kind)
				ws := openWorkspace(t, b)
				dir := t.TempDir()
				path := writeCSV(t, dir, "sales.csv", salesCSV)
				_, err := ws.IngestFile(ctx, path)
				require.NoError(t, err)
				require.Equal(t, 1, snapshotCount(t, ws, "sales"))

				for name, content := range malformed {
					writeCSV(t, dir, "sales.csv", content)
					_, err := ws.IngestFile(ctx, path)
					assert.ErrorIs(t, err, ErrIngestion, name)

					columns, err := ws.Describe(ctx, "sales")
					require.NoError(t, err)
					assert.Equal(t, []string{"id", "user_id", "amount"}, model.ColumnNames(columns), name)
					assert.Equal(t, int64(3), countRows(t, ws, "sales"), name)
					assert.Equal(t, 1, snapshotCount(t, ws, "sales"), name)
				}
			})

			t.Run("scan is additive", func(t *testing.T) {
				t.Parallel()
				b, _ := newTestBuilderFor(t, kind)
				ws := openWorkspace(t, b)
				writeCSV(t, ws.DataDir(), "orders.csv", salesCSV)
				writeCSV(t, ws.DataDir(), "Sales Report.csv", salesCSV)

				tables, err := ws.ScanFolder(ctx, ws.DataDir())
				require.NoError(t, err)
				assert.Equal(t, []string{"orders", "sales_report"}, tables)

				tables, err = ws.ScanFolder(ctx, ws.DataDir())
				require.NoError(t, err)
				assert.Empty(t, tables)
				assert.Equal(t, 1, snapshotCount(t, ws, "orders"))
			})
		})
	}
}

func TestWorkspace_IndexHints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ws := newTestWorkspace(t)
	path := writeCSV(t, t.TempDir(), "people.csv",
		"user_id,Email,PhoneNumber,name,zip_code,api_key,counter\n1,a@b.c,555,al,123,k,1\n")
	_, err := ws.IngestFile(ctx, path)
	require.NoError(t, err)

	result, err := ws.Query(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'people' ORDER BY name")
	require.NoError(t, err)

	var got []string
	for _, row := range result.Rows {
		got = append(got, row[0].(string))
	}
	assert.Equal(t, []string{
		engine.IndexName("people", "Email"),
		engine.IndexName("people", "PhoneNumber"),
		engine.IndexName("people", "api_key"),
		engine.IndexName("people", "user_id"),
		engine.IndexName("people", "zip_code"),
	}, got)
}

func TestWantsIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		column string
		want   bool
	}{
		{"id", true},
		{"ORDER_ID", true},
		{"phone", true},
		{"account_num", true},
		{"promo_code", true},
		{"Email", true},
		{"key", true},
		{"name", false},
		{"amount", false},
		{"created_at", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, wantsIndex(tt.column), tt.column)
	}
}

func TestWorkspace_DropTable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("removes the table and its data file", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		path := writeCSV(t, ws.DataDir(), "sales.csv", salesCSV)
		other := writeCSV(t, ws.DataDir(), "other.csv", salesCSV)
		_, err := ws.IngestFile(ctx, path)
		require.NoError(t, err)

		require.NoError(t, ws.DropTable(ctx, "sales"))

		tables, err := ws.ListTables(ctx)
		require.NoError(t, err)
		assert.Empty(t, tables)
		assert.NoFileExists(t, path)
		assert.FileExists(t, other)
	})

	t.Run("table without a data file leaves the folder alone", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		_, err := ws.IngestFile(ctx, writeCSV(t, t.TempDir(), "sales.csv", salesCSV))
		require.NoError(t, err)
		other := writeCSV(t, ws.DataDir(), "sales_2024.csv", salesCSV)

		require.NoError(t, ws.DropTable(ctx, "sales"))

		tables, err := ws.ListTables(ctx)
		require.NoError(t, err)
		assert.Empty(t, tables)
		entries, err := os.ReadDir(ws.DataDir())
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.FileExists(t, other)
	})

	t.Run("missing table", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		assert.ErrorIs(t, ws.DropTable(ctx, "nothing"), ErrTableNotFound)
	})

	t.Run("invalid name", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)
		assert.ErrorIs(t, ws.DropTable(ctx, "x; DROP TABLE y"), ErrInvalidName)
	})
}

func TestWorkspace_Query(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("macros are expanded", func(t *testing.T) {
		t.Parallel()
		b, _ := newTestBuilder(t)
		ws := openWorkspace(t, b.WithMacros([]model.Macro{{Token: "@one", Body: "SELECT 1 AS x"}}))

		result, err := ws.Query(ctx, "SELECT x FROM @one")
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, result.Columns)
		assert.Equal(t, [][]any{{int64(1)}}, result.Rows)
	})

	t.Run("rows are capped", func(t *testing.T) {
		t.Parallel()
		b, _ := newTestBuilder(t)
		ws := openWorkspace(t, b.WithMaxResultRows(2))
		_, err := ws.IngestFile(ctx, writeCSV(t, t.TempDir(), "sales.csv", salesCSV))
		require.NoError(t, err)

		result, err := ws.Query(ctx, "SELECT * FROM sales")
		require.NoError(t, err)
		assert.Len(t, result.Rows, 2)
		assert.True(t, result.Truncated)
	})

	t.Run("engine errors become query errors", func(t *testing.T) {
		t.Parallel()
		ws := newTestWorkspace(t)

		_, err := ws.Query(ctx, "SELEC 1")
		require.Error(t, err)
		var qe *QueryError
		require.True(t, errors.As(err, &qe))
		assert.Equal(t, "SELEC 1", qe.Query)
		assert.NotEmpty(t, qe.Message)
		assert.NotNil(t, errors.Unwrap(err))
	})
}

func TestWorkspace_Accessors(t *testing.T) {
	t.Parallel()

	b, root := newTestBuilder(t)
	ws := openWorkspace(t, b)
	assert.Equal(t, filepath.Join(root, DefaultDataDir), ws.DataDir())
	assert.False(t, ws.Standby())
	assert.Equal(t, engine.KindSQLite, ws.Engine().Kind())
	assert.Equal(t, model.MacroTokens(model.DefaultMacros()), model.MacroTokens(ws.Macros()))
}
