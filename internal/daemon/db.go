// Copyright (c) 2026 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package daemon

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" sql driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" sql driver
)

// OpenDB opens dsn with the driver its scheme implies: a "postgres://" or
// "postgresql://" DSN dials pgx, anything else is treated as a sqlite3 file
// path. It returns the migration dialect name ("sqlite3" or "postgres")
// alongside the handle since callers (migrations, in particular) need to
// know which dialect they're talking to.
func OpenDB(dsn string) (db *sql.DB, dialect string, err error) {
	dialect = "sqlite3"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialect = "pgx"
	}

	driverDialect := dialect
	if driverDialect == "pgx" {
		driverDialect = "postgres" // goose's dialect name differs from the sql driver name
	}

	db, err = sql.Open(dialect, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s database: %w", dialect, err)
	}

	return db, driverDialect, nil
}
