package engine

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/csvbook/domain/model"
)

// csvChunkReader reads a CSV source in fixed-size record batches.
type csvChunkReader struct {
	reader    *csv.Reader
	header    []string
	chunkSize int
}

func newCSVChunkReader(r io.Reader, chunkSize int) (*csvChunkReader, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := ValidateColumnCount(len(header)); err != nil {
		return nil, err
	}

	header = normalizeHeader(header)
	if err := model.ValidateColumnNames(header); err != nil {
		return nil, err
	}
	return &csvChunkReader{reader: reader, header: header, chunkSize: chunkSize}, nil
}

// normalizeHeader trims header names and names blank ones column1, column2, ...
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		if h == "" {
			h = fmt.Sprintf("column%d", i+1)
		}
		out[i] = h
	}
	return out
}

// next returns the next batch of records, or io.EOF once the source is drained.
func (c *csvChunkReader) next() ([][]string, error) {
	records := make([][]string, 0, c.chunkSize)
	for len(records) < c.chunkSize {
		record, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, io.EOF
	}
	return records, nil
}

// resolveProjection maps a projection onto header indexes.
func resolveProjection(header []string, columns []Projection) ([]int, []string, error) {
	if len(columns) == 0 {
		idx := make([]int, len(header))
		for i := range header {
			idx[i] = i
		}
		return idx, header, nil
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}
	idx := make([]int, len(columns))
	names := make([]string, len(columns))
	for i, c := range columns {
		p, ok := pos[c.Source]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownColumn, c.Source)
		}
		idx[i] = p
		names[i] = c.target()
	}
	if err := model.ValidateColumnNames(names); err != nil {
		return nil, nil, err
	}
	return idx, names, nil
}

func project(records [][]string, idx []int) [][]string {
	out := make([][]string, len(records))
	for i, record := range records {
		row := make([]string, len(idx))
		for j, k := range idx {
			row[j] = record[k]
		}
		out[i] = row
	}
	return out
}

// LoadCSV streams the file into a staging table chunk by chunk and swaps it
// in for table. Column types are inferred from the first chunk.
func (e *sqliteEngine) LoadCSV(ctx context.Context, table, path string, opts LoadOptions) error {
	reader, closeReader, err := model.NewFile(path).OpenReader()
	if err != nil {
		return err
	}
	defer func() { _ = closeReader() }()

	chunks, err := newCSVChunkReader(reader, e.chunkSize)
	if err != nil {
		return err
	}
	idx, names, err := resolveProjection(chunks.header, opts.Columns)
	if err != nil {
		return err
	}

	staging := table + "__load"
	return e.swapTable(ctx, table, staging, func(tx *sql.Tx) error {
		first, err := chunks.next()
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		first = project(first, idx)

		if err := createTable(ctx, tx, staging, model.InferColumnsInfo(names, first)); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, insertQuery(staging, len(names)))
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for records := first; len(records) > 0; {
			if err := insertChunk(ctx, stmt, records); err != nil {
				return err
			}
			next, err := chunks.next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			records = project(next, idx)
		}
		return nil
	})
}

func createTable(ctx context.Context, tx *sql.Tx, table string, columns []model.ColumnInfo) error {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = QuoteIdent(c.Name) + " " + c.Type.String()
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(table), strings.Join(defs, ", ")))
	return err
}

func insertQuery(table string, n int) string {
	placeholders := make([]string, n)
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", QuoteIdent(table), strings.Join(placeholders, ", "))
}

// insertChunk inserts records as read. Empty fields are stored as NULL.
func insertChunk(ctx context.Context, stmt *sql.Stmt, records [][]string) error {
	for _, record := range records {
		values := make([]any, len(record))
		for i, v := range record {
			if v == "" {
				continue
			}
			values[i] = v
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}
	return nil
}

// PreviewCSV returns the header and up to n records as text.
func (e *sqliteEngine) PreviewCSV(_ context.Context, path string, n int) (*model.ResultSet, error) {
	reader, closeReader, err := model.NewFile(path).OpenReader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeReader() }()

	chunks, err := newCSVChunkReader(reader, max(n, 1))
	if err != nil {
		return nil, err
	}
	records, err := chunks.next()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n <= 0 {
		records = nil
	}

	result := &model.ResultSet{
		Columns: chunks.header,
		Types:   make([]string, len(chunks.header)),
		Rows:    make([][]any, 0, len(records)),
	}
	for i := range result.Types {
		result.Types[i] = model.ColumnTypeText.String()
	}
	for _, record := range records {
		row := make([]any, len(record))
		for i, v := range record {
			row[i] = v
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}
