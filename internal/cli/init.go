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

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"go.racklord.io/fleet/internal/daemon"
)

// initCmd renders a fresh config file at --config with the given location,
// database URL, and listen port, refusing to overwrite an existing file.
func initCmd(ctx context.Context, fs afero.Fs, opts Options) *cobra.Command {
	var (
		location string
		dbURL    string
		port     int
	)

	cmd := &cobra.Command{
		Use:          "init",
		Short:        fmt.Sprintf("Generate a fresh %s config file.", opts.Use),
		Example:      fmt.Sprintf("%s init --location dc1-rack3 --db-url fleet.db --port 5250", opts.Use),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			if exists, err := afero.Exists(fs, path); err != nil {
				return err
			} else if exists {
				return fmt.Errorf("config already exists at %s", path)
			}

			if location == "" {
				return fmt.Errorf("--location must be specified")
			}

			_, err = daemon.NewDefaults(fs, path, location, dbURL, port)

			return err
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "Datacenter/location label every row is scoped to")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Inventory database DSN (sqlite path or postgres:// URL)")
	cmd.Flags().IntVar(&port, "port", 0, "RPC listen port")

	return cmd
}
