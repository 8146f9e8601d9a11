package csvbook

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nao1215/csvbook/domain/model"
	"github.com/nao1215/csvbook/engine"
)

var (
	// ErrSourceNotFound is returned when a source file path does not exist.
	ErrSourceNotFound = errors.New("csvbook: source file not found")

	// ErrInvalidName is returned when no valid table name can be derived.
	ErrInvalidName = model.ErrInvalidName

	// ErrIngestion is matched by every *IngestionError.
	ErrIngestion = errors.New("csvbook: ingestion failed")

	// ErrTableNotFound is returned when an operation targets a missing table.
	ErrTableNotFound = engine.ErrTableNotFound

	// ErrUnsupportedFormat is returned for uploads that are not CSV files.
	ErrUnsupportedFormat = errors.New("csvbook: unsupported file format")

	// ErrFileTooLarge is returned for uploads over the size limit.
	ErrFileTooLarge = errors.New("csvbook: file too large")

	// ErrInvalidFileName is returned for upload names that are unsafe to save.
	ErrInvalidFileName = errors.New("csvbook: invalid file name")

	// ErrUploadNotFound is returned when a pending upload id is unknown.
	ErrUploadNotFound = errors.New("csvbook: pending upload not found")

	// ErrNotebookNotFound is returned when a notebook name is unknown.
	ErrNotebookNotFound = errors.New("csvbook: notebook not found")

	// ErrNotebookExists is returned when creating a notebook whose name is taken.
	ErrNotebookExists = errors.New("csvbook: notebook already exists")

	// ErrEmptyNotebookName is returned when creating a notebook with a blank name.
	ErrEmptyNotebookName = errors.New("csvbook: notebook name cannot be empty")

	// ErrDefaultNotebook is returned when deleting the default notebook.
	ErrDefaultNotebook = errors.New("csvbook: the default notebook cannot be deleted")

	// ErrCellNotFound is returned when a cell id is unknown.
	ErrCellNotFound = errors.New("csvbook: cell not found")

	// ErrLastCell is returned when deleting the only cell of a notebook.
	ErrLastCell = errors.New("csvbook: the last cell of a notebook cannot be deleted")

	// ErrSnapshotNotFound is returned when a schema snapshot id is unknown.
	ErrSnapshotNotFound = errors.New("csvbook: schema snapshot not found")

	// ErrNoCommonColumn is returned when the value finder is given no column to compare.
	ErrNoCommonColumn = errors.New("csvbook: no column to compare")
)

// IngestionError reports that the engine could not load a source file.
// The previous table of the same name, if any, is left untouched.
type IngestionError struct {
	Table string
	Path  string
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("csvbook: ingest %s into table %s: %v", e.Path, e.Table, e.Err)
}

// Unwrap returns the engine error.
func (e *IngestionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrIngestion) match.
func (e *IngestionError) Is(target error) bool { return target == ErrIngestion }

// QueryError is an engine error raised by a user query. Line and Column are
// zero when the engine message carries no position.
type QueryError struct {
	Query   string
	Message string
	Line    int
	Column  int
	Err     error
}

func (e *QueryError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("query failed at line %d, column %d: %s", e.Line, e.Column, e.Message)
	}
	return "query failed: " + e.Message
}

// Unwrap returns the engine error.
func (e *QueryError) Unwrap() error { return e.Err }

// CellError converts the error to its notebook form.
func (e *QueryError) CellError() *model.CellError {
	return &model.CellError{Message: e.Message, Line: e.Line, Column: e.Column}
}

var (
	lineRe   = regexp.MustCompile(`(?i)\bline (\d+)`)
	columnRe = regexp.MustCompile(`(?i)\bcolumn (\d+)`)
)

// newQueryError wraps an engine error and extracts the error position when
// the message names one ("... at line 3 ... column 7").
func newQueryError(query string, err error) *QueryError {
	qe := &QueryError{Query: query, Message: err.Error(), Err: err}
	if m := lineRe.FindStringSubmatch(qe.Message); m != nil {
		qe.Line, _ = strconv.Atoi(m[1])
	}
	if m := columnRe.FindStringSubmatch(qe.Message); m != nil {
		qe.Column, _ = strconv.Atoi(m[1])
	}
	return qe
}

// ErrorContext provides context for where an error occurred
type ErrorContext struct {
	Operation string
	FilePath  string
	TableName string
	Details   string
}

// NewErrorContext creates a new error context
func NewErrorContext(operation, filePath string) *ErrorContext {
	return &ErrorContext{
		Operation: operation,
		FilePath:  filePath,
	}
}

// WithTable adds table context to the error
func (ec *ErrorContext) WithTable(tableName string) *ErrorContext {
	ec.TableName = tableName
	return ec
}

// WithDetails adds details to the error context
func (ec *ErrorContext) WithDetails(details string) *ErrorContext {
	ec.Details = details
	return ec
}

// Error creates a formatted error with context
func (ec *ErrorContext) Error(baseErr error) error {
	parts := []string{fmt.Sprintf("csvbook: %s failed", ec.Operation)}
	if ec.FilePath != "" {
		parts = append(parts, "file: "+ec.FilePath)
	}
	if ec.TableName != "" {
		parts = append(parts, "table: "+ec.TableName)
	}
	if ec.Details != "" {
		parts = append(parts, "details: "+ec.Details)
	}

	msg := strings.Join(parts, ", ")
	if baseErr != nil {
		return fmt.Errorf("%s: %w", msg, baseErr)
	}
	return errors.New(msg)
}
