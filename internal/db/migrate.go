package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

//go:embed schema_sqlite.sql
var schemaSQLite string

// Migrate picks the embedded schema written for driver (schema.sql for
// Postgres, schema_sqlite.sql for SQLite) and runs it.  Every statement is
// IF NOT EXISTS, so running it on each start is safe.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var schema string
	switch driver {
	case DriverPostgres:
		schema = schemaSQL
	case DriverSQLite:
		schema = schemaSQLite
	default:
		return fmt.Errorf("no schema for driver %q", driver)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply %s schema: %w", driver, err)
	}
	return nil
}
