package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Column describes one column of a live table as reported by the engine.
type Column struct {
	// Name is the column name.
	Name string `json:"column"`
	// Type is the engine's declared type (VARCHAR, BIGINT, TEXT, ...).
	Type string `json:"type"`
	// Nullable reports whether the column accepts NULL.
	Nullable bool `json:"nullable"`
}

// ColumnNames returns the names of columns in order.
func ColumnNames(columns []Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}

// ColumnType is the SQL type inferred for a CSV column when the engine does not
// infer types itself.
type ColumnType int

const (
	// ColumnTypeText represents TEXT column type
	ColumnTypeText ColumnType = iota
	// ColumnTypeInteger represents INTEGER column type
	ColumnTypeInteger
	// ColumnTypeReal represents REAL column type
	ColumnTypeReal
	// ColumnTypeDatetime represents datetime stored as TEXT in ISO8601 format
	ColumnTypeDatetime
)

// String returns the SQL column type string
func (ct ColumnType) String() string {
	switch ct {
	case ColumnTypeInteger:
		return "INTEGER"
	case ColumnTypeReal:
		return "REAL"
	default:
		// datetimes are kept as ISO8601 TEXT
		return "TEXT"
	}
}

// ColumnInfo is a header name together with its inferred type.
type ColumnInfo struct {
	Name string
	Type ColumnType
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006",
	"02.01.2006",
	"15:04:05",
}

// isDatetime checks if a string value represents a datetime
func isDatetime(value string) bool {
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

// InferColumnType infers the SQL column type from a slice of string values.
// Empty values are ignored. Integers mixed with decimals widen to REAL; any
// other mix falls back to TEXT.
func InferColumnType(values []string) ColumnType {
	var hasInteger, hasReal, hasDatetime bool

	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, err := strconv.ParseInt(value, 10, 64); err == nil {
			hasInteger = true
			continue
		}
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			hasReal = true
			continue
		}
		if isDatetime(value) {
			hasDatetime = true
			continue
		}
		return ColumnTypeText
	}

	switch {
	case hasDatetime && (hasInteger || hasReal):
		return ColumnTypeText
	case hasDatetime:
		return ColumnTypeDatetime
	case hasReal:
		return ColumnTypeReal
	case hasInteger:
		return ColumnTypeInteger
	default:
		return ColumnTypeText
	}
}

// InferColumnsInfo infers a type for each header column from the sample records.
func InferColumnsInfo(header []string, records [][]string) []ColumnInfo {
	columns := make([]ColumnInfo, len(header))
	for i, name := range header {
		values := make([]string, 0, len(records))
		for _, record := range records {
			if i < len(record) {
				values = append(values, record[i])
			}
		}
		columns[i] = ColumnInfo{Name: name, Type: InferColumnType(values)}
	}
	return columns
}

// ValidateColumnNames checks for empty and duplicate column names. Names that
// are equal after trimming whitespace are duplicates; the comparison is
// case-sensitive.
func ValidateColumnNames(columns []string) error {
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		trimmed := strings.TrimSpace(col)
		if trimmed == "" {
			return fmt.Errorf("%w: empty column name", ErrInvalidColumnName)
		}
		if seen[trimmed] {
			return fmt.Errorf("%w: %s", ErrDuplicateColumnName, col)
		}
		seen[trimmed] = true
	}
	return nil
}
