// Package csvbook is a notebook-style SQL workspace over CSV files.
//
// CSV files placed in a data folder, or uploaded through the HTTP API, are
// materialized as tables of an embedded engine (DuckDB, or pure-Go SQLite).
// Every successful load or schema edit appends a JSON schema snapshot to the
// schema folder. Queries may use short macros such as @top_users that expand
// to fixed SQL fragments.
//
// # Basic Usage
//
//	ws, err := csvbook.NewBuilder().
//	    WithDataDir("data").
//	    WithSchemaDir("schemas").
//	    WithAutoScan(true).
//	    Open(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ws.Close()
//
//	table, err := ws.IngestFile(ctx, "sales-2024.csv") // table "sales_2024"
//	result, err := ws.Query(ctx, "SELECT * FROM @top_users")
//
// # Ingestion semantics
//
// Workspace.IngestFile is destructive-idempotent: loading a file replaces the
// table derived from its name. Workspace.ScanFolder is additive-idempotent: it
// only loads files whose table does not exist yet, so restarting over the same
// folder never clobbers a table that was reshaped by hand.
//
// Columns whose name contains id, num, phone, email, code or key are indexed
// after a load. Index and snapshot failures are logged and never fail the load.
//
// # Sessions
//
// A Session holds the interactive state of one user: notebooks of SQL cells
// and uploads waiting to be configured. Sessions share their Workspace.
package csvbook
