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

func serverCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "List and stop servers.",
	}

	cmd.AddCommand(serverListCmd(ctx, dial))
	cmd.AddCommand(serverStopCmd(ctx, dial))

	return cmd
}

func serverListCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	var (
		rackName string
		cluster  string
	)

	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List servers in the current location, optionally scoped to a rack or cluster.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, rctx, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			f := inventory.ServerFilter{RackName: rackName, ClusterName: cluster}

			var out []*inventory.Server
			if err := client.Call(ctx, rctx, "server_list", f, &out); err != nil {
				return err
			}

			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&rackName, "rack", "", "Restrict to this rack")
	cmd.Flags().StringVar(&cluster, "cluster", "", "Restrict to this cluster")

	return cmd
}

func serverStopCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	var (
		rackName string
		serverID int64
		lockID   string
		force    bool
	)

	cmd := &cobra.Command{
		Use:          "stop",
		Short:        "Stop an in-progress server transition.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, rctx, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			req := struct {
				RackName string `json:"rack_name"`
				ServerID int64  `json:"server_id"`
				LockID   string `json:"lock_id"`
				Force    bool   `json:"force"`
			}{RackName: rackName, ServerID: serverID, LockID: lockID, Force: force}

			return client.Call(ctx, rctx, "stop_server", req, nil)
		},
	}

	cmd.Flags().StringVar(&rackName, "rack", "", "Rack name")
	cmd.Flags().Int64Var(&serverID, "id", 0, "Server ID")
	cmd.Flags().StringVar(&lockID, "lock-id", "", "Lock ID of the in-progress transition")
	cmd.Flags().BoolVar(&force, "force", false, "Force-unlock through the error transition when no task is running")

	return cmd
}
