// Package model provides the domain model of csvbook: table naming, column and
// snapshot records, macros, notebook state and export options. It has no
// dependency on a database engine.
package model

import "errors"

var (
	// ErrInvalidName is returned when a string cannot be turned into a table identifier.
	ErrInvalidName = errors.New("invalid table name")

	// ErrDuplicateColumnName is returned when a file contains duplicate column names
	ErrDuplicateColumnName = errors.New("duplicate column name")

	// ErrInvalidColumnName is returned for empty column names.
	ErrInvalidColumnName = errors.New("invalid column name")
)
