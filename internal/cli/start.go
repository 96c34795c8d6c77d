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

func startCmd(ctx context.Context, fs afero.Fs, opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "start",
		Short:        fmt.Sprintf("Start the %s daemon.", opts.Use),
		Example:      fmt.Sprintf("%s start", opts.Use),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			cfg, err := daemon.Load(fs, path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			return opts.Daemon.Run(ctx, cfg)
		},
	}

	return cmd
}
