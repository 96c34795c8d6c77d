// Package db provides a disposable sqlite fixture for store tests.
package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"go.racklord.io/fleet/internal/inventory"
)

func SetupSchema(ctx context.Context, db *sql.DB) error {
	return inventory.ApplySchema(ctx, db)
}

// WithTestDatabase opens a fresh sqlite file under t.TempDir() with the
// inventory schema already applied.
func WithTestDatabase(t testing.TB) (*sql.DB, error) {
	f, err := os.CreateTemp(t.TempDir(), t.Name()+".db")
	if err != nil {
		return nil, err
	}

	if err = f.Close(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", f.Name())
	if err != nil {
		return nil, err
	}

	if err := SetupSchema(context.Background(), db); err != nil {
		return nil, err
	}

	return db, nil
}
