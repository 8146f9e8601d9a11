package model

import "time"

// DefaultNotebookName is the notebook every session starts with. It cannot be deleted.
const DefaultNotebookName = "Main Analytics"

// ResultSet is a materialized query result.
type ResultSet struct {
	// Columns are the result column names in order.
	Columns []string `json:"columns"`
	// Types are the engine's database type names, parallel to Columns.
	Types []string `json:"types"`
	// Rows hold the scanned values. []byte values are converted to string.
	Rows [][]any `json:"rows"`
	// Truncated is set when more rows were available than the row limit.
	Truncated bool `json:"truncated"`
}

// RowCount returns the number of materialized rows.
func (r *ResultSet) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// CellMeta holds execution statistics of the last successful run of a cell.
type CellMeta struct {
	Duration time.Duration `json:"duration"`
	Rows     int           `json:"rows"`
}

// CellError describes a failed cell run. Line and Column are zero when the
// engine message carried no position.
type CellError struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// Cell is one SQL editor of a notebook.
type Cell struct {
	ID           int        `json:"id"`
	Query        string     `json:"query"`
	LastRunQuery string     `json:"last_run_query,omitempty"`
	Result       *ResultSet `json:"result,omitempty"`
	Error        *CellError `json:"error,omitempty"`
	Meta         CellMeta   `json:"meta"`
}

// Dirty reports whether the cell holds a non-blank query that differs from
// the query of its last run.
func (c *Cell) Dirty() bool {
	return c.Query != c.LastRunQuery && !isBlank(c.Query)
}

// Notebook is a named, ordered list of cells.
type Notebook struct {
	Name  string  `json:"name"`
	Cells []*Cell `json:"cells"`
}

// NextCellID returns an id greater than every id in the notebook.
func (n *Notebook) NextCellID() int {
	next := 0
	for _, c := range n.Cells {
		if c.ID >= next {
			next = c.ID + 1
		}
	}
	return next
}

// CellIndex returns the position of the cell with id, or -1.
func (n *Notebook) CellIndex(id int) int {
	for i, c := range n.Cells {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// PendingUpload is an uploaded file saved to disk and awaiting configuration
// before it becomes a table.
type PendingUpload struct {
	// FileName is the original name the client sent.
	FileName string `json:"file_name"`
	// Path is where the file was saved.
	Path string `json:"path"`
	// Columns are the detected column names.
	Columns []string `json:"columns"`
	// Preview holds the first rows of the file.
	Preview *ResultSet `json:"preview"`
	// TableName is the default table name derived from FileName.
	TableName string `json:"table_name"`
}

// ColumnEdit describes what happens to one column when a table or a pending
// upload is reshaped.
type ColumnEdit struct {
	// Old is the current column name.
	Old string `json:"old"`
	// New is the name after the edit. Empty keeps Old.
	New string `json:"new"`
	// Keep drops the column when false.
	Keep bool `json:"keep"`
	// Pos orders kept columns, ascending. Ties keep the input order.
	Pos int `json:"pos"`
}

// Target returns the column name after the edit.
func (e ColumnEdit) Target() string {
	if e.New == "" {
		return e.Old
	}
	return e.New
}

func isBlank(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}
