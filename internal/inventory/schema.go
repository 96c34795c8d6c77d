package inventory

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Migrate brings db up to the latest schema version using dialect
// ("sqlite3" or "postgres"), tracked in goose's own goose_db_version table
// so repeated calls (every daemon startup) are no-ops once current.
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	provider, err := goose.NewProvider(goose.Dialect(dialect), db, migrationsFS,
		goose.WithVerbose(false))
	if err != nil {
		return fmt.Errorf("inventory: new migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("inventory: apply migrations: %w", err)
	}

	return nil
}

// Version reports the schema's current applied migration version.
func Version(ctx context.Context, db *sql.DB, dialect string) (int64, error) {
	provider, err := goose.NewProvider(goose.Dialect(dialect), db, migrationsFS,
		goose.WithVerbose(false))
	if err != nil {
		return 0, fmt.Errorf("inventory: new migration provider: %w", err)
	}

	status, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("inventory: get db version: %w", err)
	}

	return status, nil
}

// ApplySchema is Migrate pinned to sqlite3, used by the in-memory/tempfile
// database fixture in internal/testing/db where no production config (and
// so no dialect choice) is in scope.
func ApplySchema(ctx context.Context, db *sql.DB) error {
	return Migrate(ctx, db, "sqlite3")
}
