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

	"github.com/spf13/cobra"

	"go.racklord.io/fleet/internal/inventory"
)

func workerCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "List registered workers.",
	}

	cmd.AddCommand(workerListCmd(ctx, dial))

	return cmd
}

func workerListCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List workers registered in the current location.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, rctx, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var out []*inventory.Worker
			if err := client.Call(ctx, rctx, "worker_list", nil, &out); err != nil {
				return err
			}

			return printJSON(out)
		},
	}

	return cmd
}
