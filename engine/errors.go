package engine

import "errors"

var (
	// ErrTableNotFound is returned when an operation targets a missing table.
	ErrTableNotFound = errors.New("engine: table not found")

	// ErrEmptyFile is returned when a CSV source has no header row.
	ErrEmptyFile = errors.New("engine: file is empty")

	// ErrUnknownEngine is returned for an engine kind other than duckdb or sqlite.
	ErrUnknownEngine = errors.New("engine: unknown engine")

	// ErrNoColumns is returned when a projection selects no columns.
	ErrNoColumns = errors.New("engine: no columns selected")

	// ErrUnknownColumn is returned when a projection names a column the source lacks.
	ErrUnknownColumn = errors.New("engine: unknown column")

	// ErrTooManyColumns is returned when a file has too many columns
	ErrTooManyColumns = errors.New("engine: too many columns")
)
