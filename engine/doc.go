// Package engine wraps the embedded SQL databases csvbook materializes CSV
// files into. DuckDB is the default engine; SQLite (pure Go, via
// modernc.org/sqlite) is available where cgo is not.
//
// Both engines expose the same Engine interface: loading a CSV file into a
// table with type inference, previewing a file, introspecting tables and
// columns, indexing, rebuilding a table from a column projection and running
// ad hoc queries.
package engine
