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

func assetCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	var rackName string

	cmd := &cobra.Command{
		Use:          "asset",
		Short:        "List discovered assets (servers and network devices not yet enrolled).",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, rctx, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			f := inventory.AssetFilter{RackName: rackName}

			var out []*inventory.Asset
			if err := client.Call(ctx, rctx, "asset_list", f, &out); err != nil {
				return err
			}

			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&rackName, "rack", "", "Restrict to this rack")

	return cmd
}
