package csvbook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFinder(t *testing.T) *Workspace {
	t.Helper()
	ctx := context.Background()
	ws := newTestWorkspace(t)
	ingestSales(t, ws)
	_, err := ws.IngestFile(ctx, writeCSV(t, t.TempDir(), "users.csv", "name,user_id\nal,10\nbo,12\n"))
	require.NoError(t, err)
	_, err = ws.IngestFile(ctx, writeCSV(t, t.TempDir(), "tags.csv", "tag\nx\n"))
	require.NoError(t, err)
	return ws
}

func TestWorkspace_CommonColumns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ws := setupFinder(t)

	common, def, err := ws.CommonColumns(ctx, "sales", "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id"}, common)
	assert.Equal(t, "user_id", def)

	common, def, err = ws.CommonColumns(ctx, "sales", "tags")
	require.NoError(t, err)
	assert.Empty(t, common)
	assert.Equal(t, "id", def)

	_, _, err = ws.CommonColumns(ctx, "sales", "missing")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestWorkspace_FindCommonValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ws := setupFinder(t)

	cv, err := ws.FindCommonValues(ctx, "sales", "user_id", "users", "user_id")
	require.NoError(t, err)
	// rows 1 and 3 of sales have user_id 10
	assert.Equal(t, int64(2), cv.Count)
	assert.Equal(t, "sales", cv.TableA)
	assert.Equal(t, "users", cv.TableB)

	_, err = ws.FindCommonValues(ctx, "sales", "", "users", "user_id")
	assert.ErrorIs(t, err, ErrNoCommonColumn)

	_, err = ws.FindCommonValues(ctx, "sales", "nope", "users", "user_id")
	var qe *QueryError
	assert.True(t, errors.As(err, &qe))
}

func TestCommonValues_NotebookQuery(t *testing.T) {
	t.Parallel()

	cv := &CommonValues{TableA: "sales", ColumnA: "user_id", TableB: "users", ColumnB: "id"}
	want := "-- Common values between sales.user_id and users.id\n" +
		`SELECT * FROM "sales"` + "\n" +
		`WHERE "user_id" IN (SELECT "id" FROM "users")` + "\n" +
		"LIMIT 100;"
	assert.Equal(t, want, cv.NotebookQuery())

	// the query runs as a notebook cell
	ws := setupFinder(t)
	result, err := ws.Query(context.Background(), (&CommonValues{
		TableA: "sales", ColumnA: "user_id", TableB: "users", ColumnB: "user_id",
	}).NotebookQuery())
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
}
