package csvbook

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nao1215/csvbook/engine"
)

// CommonValues is the result of comparing a column of table A with a column
// of table B.
type CommonValues struct {
	TableA  string `json:"table_a"`
	ColumnA string `json:"column_a"`
	TableB  string `json:"table_b"`
	ColumnB string `json:"column_b"`
	// Count is the number of rows of A whose value appears in B's column.
	Count    int64         `json:"count"`
	Duration time.Duration `json:"duration"`
}

// NotebookQuery returns a query listing the matching rows of A, suitable for
// a notebook cell.
func (cv *CommonValues) NotebookQuery() string {
	return fmt.Sprintf("-- Common values between %s.%s and %s.%s\n%s\nLIMIT 100;",
		cv.TableA, cv.ColumnA, cv.TableB, cv.ColumnB,
		matchQuery("SELECT *", cv.TableA, cv.ColumnA, cv.TableB, cv.ColumnB))
}

func matchQuery(selectClause, tableA, columnA, tableB, columnB string) string {
	return fmt.Sprintf("%s FROM %s\nWHERE %s IN (SELECT %s FROM %s)",
		selectClause, engine.QuoteIdent(tableA), engine.QuoteIdent(columnA),
		engine.QuoteIdent(columnB), engine.QuoteIdent(tableB))
}

// CommonColumns returns the column names tables a and b share, in a's column
// order, and the column to compare by default: the first shared column, or
// the first column of a when nothing is shared.
func (w *Workspace) CommonColumns(ctx context.Context, a, b string) ([]string, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	colsA, err := w.engine.Describe(ctx, a)
	if err != nil {
		return nil, "", err
	}
	colsB, err := w.engine.Describe(ctx, b)
	if err != nil {
		return nil, "", err
	}

	common := []string{}
	for _, ca := range colsA {
		for _, cb := range colsB {
			if ca.Name == cb.Name && !slices.Contains(common, ca.Name) {
				common = append(common, ca.Name)
			}
		}
	}
	if len(common) > 0 {
		return common, common[0], nil
	}
	return common, colsA[0].Name, nil
}

// FindCommonValues counts the rows of a whose columnA value appears in
// columnB of b.
func (w *Workspace) FindCommonValues(ctx context.Context, a, columnA, b, columnB string) (*CommonValues, error) {
	if columnA == "" || columnB == "" {
		return nil, ErrNoCommonColumn
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	query := matchQuery("SELECT count(*)", a, columnA, b, columnB)
	start := time.Now()
	var count int64
	if err := w.engine.DB().QueryRowContext(ctx, query).Scan(&count); err != nil {
		return nil, newQueryError(query, err)
	}
	return &CommonValues{
		TableA:   a,
		ColumnA:  columnA,
		TableB:   b,
		ColumnB:  columnB,
		Count:    count,
		Duration: time.Since(start),
	}, nil
}
