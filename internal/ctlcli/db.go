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

package ctlcli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"go.racklord.io/fleet/internal/daemon"
	"go.racklord.io/fleet/internal/inventory"
)

// dbCmd operates directly on the inventory database, bypassing the
// coordinator: schema control for operators who aren't running a
// coordinator yet, or who need to inspect the schema version offline.
func dbCmd(ctx context.Context, defaultDBURL string) *cobra.Command {
	var dbURL string

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Control the inventory database's schema.",
	}

	cmd.PersistentFlags().StringVar(&dbURL, "db-url", defaultDBURL, "Inventory database DSN")

	cmd.AddCommand(dbUpgradeCmd(ctx, &dbURL))
	cmd.AddCommand(dbVersionCmd(ctx, &dbURL))
	cmd.AddCommand(dbControlCmd(ctx, &dbURL))

	return cmd
}

func dbUpgradeCmd(ctx context.Context, dbURL *string) *cobra.Command {
	return &cobra.Command{
		Use:          "upgrade",
		Short:        "Apply every pending migration.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, err := daemon.OpenDB(*dbURL)
			if err != nil {
				return err
			}
			defer db.Close()

			return inventory.Migrate(ctx, db, dialect)
		},
	}
}

func dbVersionCmd(ctx context.Context, dbURL *string) *cobra.Command {
	return &cobra.Command{
		Use:          "version",
		Short:        "Print the currently applied schema version.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, err := daemon.OpenDB(*dbURL)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := inventory.Version(ctx, db, dialect)
			if err != nil {
				return err
			}

			fmt.Println(v)

			return nil
		},
	}
}

// dbControlCmd is a read-only pre-flight check: confirms the configured DSN
// is reachable and its schema version, without applying anything. Operators
// run it before `upgrade` to confirm they're pointed at the database they
// think they are.
func dbControlCmd(ctx context.Context, dbURL *string) *cobra.Command {
	return &cobra.Command{
		Use:          "control",
		Short:        "Verify the database is reachable and report its schema version.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, err := daemon.OpenDB(*dbURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("database unreachable: %w", err)
			}

			v, err := inventory.Version(ctx, db, dialect)
			if err != nil {
				return err
			}

			fmt.Printf("ok, schema version %d\n", v)

			return nil
		},
	}
}
