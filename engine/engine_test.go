package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func openEngines(t *testing.T) map[Kind]Engine {
	t.Helper()
	engines := make(map[Kind]Engine)
	for _, kind := range []Kind{KindDuckDB, KindSQLite} {
		e, err := Open(context.Background(), kind, Config{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = e.Close() })
		engines[kind] = e
	}
	return engines
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "", want: KindDuckDB},
		{in: "duckdb", want: KindDuckDB},
		{in: " SQLite ", want: KindSQLite},
		{in: "postgres", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownEngine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuoting(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"sales"`, QuoteIdent("sales"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
	assert.Equal(t, `'it''s'`, QuoteLiteral("it's"))
	assert.Equal(t, "idx_sales_user_id", IndexName("sales", "user_id"))
	assert.Equal(t, "*", selectList(nil))
	assert.Equal(t, `"a", "b" AS "c"`, selectList([]Projection{{Source: "a"}, {Source: "b", Target: "c"}}))
}

func TestEngineLoadAndDescribe(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "sales.csv", "id,user_id,amount\n1,10,2.5\n2,11,3\n3,10,\n")

	for kind, e := range openEngines(t) {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, e.LoadCSV(ctx, "sales", path, LoadOptions{}))

			exists, err := e.TableExists(ctx, "sales")
			require.NoError(t, err)
			assert.True(t, exists)

			tables, err := e.ListTables(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"sales"}, tables)

			columns, err := e.Describe(ctx, "sales")
			require.NoError(t, err)
			require.Len(t, columns, 3)
			assert.Equal(t, "id", columns[0].Name)
			assert.Equal(t, "user_id", columns[1].Name)
			assert.Equal(t, "amount", columns[2].Name)
			assert.True(t, columns[2].Nullable)

			result, err := e.Query(ctx, `SELECT count(*) FROM sales WHERE amount IS NULL`, 0)
			require.NoError(t, err)
			require.Len(t, result.Rows, 1)
			assert.EqualValues(t, 1, result.Rows[0][0])
		})
	}
}

func TestEngineLoadReplacesTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := writeFile(t, dir, "first.csv", "a,b\n1,2\n")
	second := writeFile(t, dir, "second.csv", "c\nx\ny\n")

	for kind, e := range openEngines(t) {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, e.LoadCSV(ctx, "t", first, LoadOptions{}))
			require.NoError(t, e.LoadCSV(ctx, "t", second, LoadOptions{}))

			columns, err := e.Describe(ctx, "t")
			require.NoError(t, err)
			require.Len(t, columns, 1)
			assert.Equal(t, "c", columns[0].Name)

			result, err := e.Query(ctx, `SELECT * FROM t`, 0)
			require.NoError(t, err)
			assert.Equal(t, 2, result.RowCount())
		})
	}
}

func TestEngineLoadProjection(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "people.csv", "Name,Age,City\nann,30,paris\nbob,41,rome\n")

	for kind, e := range openEngines(t) {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			opts := LoadOptions{Columns: []Projection{
				{Source: "City", Target: "city"},
				{Source: "Name", Target: "full_name"},
			}}
			require.NoError(t, e.LoadCSV(ctx, "people", path, opts))

			columns, err := e.Describe(ctx, "people")
			require.NoError(t, err)
			require.Len(t, columns, 2)
			assert.Equal(t, "city", columns[0].Name)
			assert.Equal(t, "full_name", columns[1].Name)
		})
	}
}

func TestEngineQueryTruncates(t *testing.T) {
	t.Parallel()

	for kind, e := range openEngines(t) {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, e.Exec(ctx, `CREATE TABLE n (v INTEGER)`))
			require.NoError(t, e.Exec(ctx, `INSERT INTO n VALUES (1), (2), (3)`))

			result, err := e.Query(ctx, `SELECT v FROM n ORDER BY v`, 2)
			require.NoError(t, err)
			assert.Equal(t, 2, result.RowCount())
			assert.True(t, result.Truncated)
			assert.Equal(t, []string{"v"}, result.Columns)

			result, err = e.Query(ctx, `SELECT v FROM n ORDER BY v`, 3)
			require.NoError(t, err)
			assert.Equal(t, 3, result.RowCount())
			assert.False(t, result.Truncated)
		})
	}
}

func TestEngineReplaceTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "t.csv", "a,b,c\n1,2,3\n")

	for kind, e := range openEngines(t) {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, e.LoadCSV(ctx, "t", path, LoadOptions{}))
			require.NoError(t, e.CreateIndex(ctx, "t", "a"))

			require.NoError(t, e.ReplaceTable(ctx, "t", []Projection{
				{Source: "c"},
				{Source: "a", Target: "alpha"},
			}))

			columns, err := e.Describe(ctx, "t")
			require.NoError(t, err)
			require.Len(t, columns, 2)
			assert.Equal(t, "c", columns[0].Name)
			assert.Equal(t, "alpha", columns[1].Name)

			require.ErrorIs(t, e.ReplaceTable(ctx, "t", nil), ErrNoColumns)
		})
	}
}

func TestEngineDropAndMissingTable(t *testing.T) {
	t.Parallel()

	for kind, e := range openEngines(t) {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, e.Exec(ctx, `CREATE TABLE gone (x INTEGER)`))
			require.NoError(t, e.DropTable(ctx, "gone"))
			require.NoError(t, e.DropTable(ctx, "gone"))

			exists, err := e.TableExists(ctx, "gone")
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = e.Describe(ctx, "gone")
			require.ErrorIs(t, err, ErrTableNotFound)
		})
	}
}

func TestEnginePreviewCSV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "p.csv", "x,y\n1,a\n2,b\n3,c\n")

	for kind, e := range openEngines(t) {
		t.Run(string(kind), func(t *testing.T) {
			result, err := e.PreviewCSV(context.Background(), path, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"x", "y"}, result.Columns)
			assert.Equal(t, 2, result.RowCount())
		})
	}
}

func TestEngineLoadCompressed(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("id,name\n1,a\n2,b\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "c.csv.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	for kind, e := range openEngines(t) {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, e.LoadCSV(ctx, "c", path, LoadOptions{}))
			result, err := e.Query(ctx, `SELECT * FROM c`, 0)
			require.NoError(t, err)
			assert.Equal(t, 2, result.RowCount())
		})
	}
}

func TestEngineLoadFailureKeepsTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := writeFile(t, dir, "good.csv", "a,b\n1,2\n")
	bad := map[string]string{
		"extra field":       writeFile(t, dir, "extra.csv", "a,b\n1,2\n3,4,5\n"),
		"missing field":     writeFile(t, dir, "short.csv", "a,b\n1,2\n3\n"),
		"unterminated":      writeFile(t, dir, "quote.csv", "a,b\n1,\"abc\n2,3\n"),
		"duplicate columns": writeFile(t, dir, "dup.csv", "a,a\n1,2\n"),
	}
	empty := writeFile(t, dir, "empty.csv", "")

	for kind, e := range openEngines(t) {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, e.LoadCSV(ctx, "t", good, LoadOptions{}))

			for name, path := range bad {
				assert.Error(t, e.LoadCSV(ctx, "t", path, LoadOptions{}), name)
			}
			require.ErrorIs(t, e.LoadCSV(ctx, "t", empty, LoadOptions{}), ErrEmptyFile)
			require.Error(t, e.LoadCSV(ctx, "t", good, LoadOptions{Columns: []Projection{{Source: "zzz"}}}))

			columns, err := e.Describe(ctx, "t")
			require.NoError(t, err)
			require.Len(t, columns, 2)
			result, err := e.Query(ctx, `SELECT a, b FROM t`, 0)
			require.NoError(t, err)
			assert.Equal(t, 1, result.RowCount())

			tables, err := e.ListTables(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"t"}, tables)
		})
	}
}

func TestSQLiteUnknownProjectionColumn(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "good.csv", "a,b\n1,2\n")
	e, err := Open(context.Background(), KindSQLite, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	err = e.LoadCSV(context.Background(), "t", path, LoadOptions{Columns: []Projection{{Source: "zzz"}}})
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestSQLiteChunkedLoad(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	b.WriteString("n,label\n")
	for range 25 {
		b.WriteString("1,row\n")
	}
	path := writeFile(t, t.TempDir(), "many.csv", b.String())

	e, err := openSQLite(context.Background(), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	e.chunkSize = 10

	ctx := context.Background()
	require.NoError(t, e.LoadCSV(ctx, "many", path, LoadOptions{}))
	result, err := e.Query(ctx, `SELECT count(*) FROM many`, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 25, result.Rows[0][0])
}

func TestSQLiteHeaderOnlyAndBlankHeaders(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "h.csv", "a,,c\n")

	e, err := Open(context.Background(), KindSQLite, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	ctx := context.Background()
	require.NoError(t, e.LoadCSV(ctx, "h", path, LoadOptions{}))
	columns, err := e.Describe(ctx, "h")
	require.NoError(t, err)
	require.Len(t, columns, 3)
	assert.Equal(t, "column2", columns[1].Name)
}

func TestValidateColumnCount(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ValidateColumnCount(MaxColumnCount+1), ErrTooManyColumns)
	assert.NoError(t, ValidateColumnCount(3))
}

func TestEngineLoadKeepsLongFields(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 1<<16) + "é" + "tail"
	path := writeFile(t, t.TempDir(), "long.csv", "id,body\n1,"+body+"\n2,short\n")

	for kind, e := range openEngines(t) {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, e.LoadCSV(ctx, "long", path, LoadOptions{}))

			result, err := e.Query(ctx, `SELECT body FROM long ORDER BY id`, 0)
			require.NoError(t, err)
			require.Len(t, result.Rows, 2)
			assert.Equal(t, body, result.Rows[0][0])
			assert.True(t, utf8.ValidString(result.Rows[0][0].(string)))
		})
	}
}
