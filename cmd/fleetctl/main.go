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

// Command fleetctl is the operator CLI: it drives a running
// fleet-coordinatord over RPC (rack/server/worker/asset subcommands) and,
// for db, talks directly to the inventory database.
package main

import (
	"context"
	"fmt"
	"os"

	"go.racklord.io/fleet/internal/ctlcli"
)

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := ctlcli.RootCmd(ctx, ctlcli.Options{
		Endpoint: os.Getenv("FLEETCTL_ENDPOINT"),
		Location: os.Getenv("FLEETCTL_LOCATION"),
		DBURL:    os.Getenv("FLEETCTL_DB_URL"),
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	return 0
}

func main() {
	os.Exit(run())
}
