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

// Package ctlcli builds fleetctl's command tree: operator commands over
// the coordinator's RPC surface (rack, server, worker, asset) plus a local
// db subcommand that talks directly to the inventory database for
// migration control.
package ctlcli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"go.racklord.io/fleet/internal/rpc"
)

// dialFunc dials the coordinator using the command tree's shared
// --endpoint/--location/--user flags.
type dialFunc func() (*rpc.Client, rpc.Context, error)

// Options parameterizes RootCmd.
type Options struct {
	// Endpoint is the coordinator's default "host:port", overridable with
	// --endpoint on any command.
	Endpoint string
	// Location is the default --location value.
	Location string
	// DBURL is the default database DSN for the db subcommand.
	DBURL string
}

func RootCmd(ctx context.Context, opts Options) *cobra.Command {
	var (
		endpoint string
		location string
		user     string
	)

	cmd := &cobra.Command{
		Use:               "fleetctl",
		Short:             "fleetctl operates a fleet controller's racks, servers, and workers.",
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	cmd.PersistentFlags().StringVar(&endpoint, "endpoint", opts.Endpoint, "Coordinator host:port")
	cmd.PersistentFlags().StringVar(&location, "location", opts.Location, "Datacenter/location to operate against")
	cmd.PersistentFlags().StringVar(&user, "user", "", "Acting user recorded in the RPC context")

	var dial dialFunc = func() (*rpc.Client, rpc.Context, error) {
		if endpoint == "" {
			return nil, rpc.Context{}, fmt.Errorf("--endpoint (or FLEETCTL_ENDPOINT) must be set")
		}

		client, err := rpc.NewClient(endpoint)
		if err != nil {
			return nil, rpc.Context{}, err
		}

		return client, rpc.Context{Location: location, User: user}, nil
	}

	cmd.AddCommand(rackCmd(ctx, dial))
	cmd.AddCommand(serverCmd(ctx, dial))
	cmd.AddCommand(workerCmd(ctx, dial))
	cmd.AddCommand(assetCmd(ctx, dial))
	cmd.AddCommand(dbCmd(ctx, opts.DBURL))

	cmd.InitDefaultHelpCmd()

	return cmd
}
