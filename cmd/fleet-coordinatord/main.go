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

// Command fleet-coordinatord runs the fleet controller's operator-facing
// coordinator: one process per location, dispatching fleet-scoped commands
// directly against the inventory store and forwarding rack-scoped commands
// to the rack's registered owning worker.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"go.racklord.io/fleet/internal/cli"
	"go.racklord.io/fleet/internal/coordinator"
	"go.racklord.io/fleet/internal/coordinatorrpc"
	"go.racklord.io/fleet/internal/daemon"
	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/pathutil"
	"go.racklord.io/fleet/internal/rpc"
	"go.racklord.io/fleet/internal/telemetry"
)

type coordinatorDaemon struct{}

func (coordinatorDaemon) Run(ctx context.Context, cfg *daemon.Config) error {
	log := daemon.NewLogger(cfg.Common.LogLevel, "fleet-coordinatord")

	shutdownTracing, err := telemetry.Init(ctx, "fleet-coordinatord")
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, dialect, err := daemon.OpenDB(cfg.Common.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := inventory.Migrate(ctx, db, dialect); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	store := inventory.New(db)

	dial := func(endpoint string) (*rpc.Client, error) {
		return rpc.NewClient(endpoint)
	}

	dispatcher := coordinator.New(store, dial, log)

	srv := rpc.NewServer(log)
	coordinatorrpc.New(dispatcher, log).Register(srv)

	addr := fmt.Sprintf(":%d", cfg.Master.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("coordinator listening")

	serveErr := make(chan error, 1)

	go func() { serveErr <- srv.Serve(ln) }()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serveErr:
		return err
	case <-sigs:
		srv.Shutdown()
		_ = ln.Close()

		return nil
	}
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := afero.NewOsFs()

	root := cli.RootCmd(ctx, fs, cli.Options{
		Use:        "fleet-coordinatord",
		Short:      "fleet-coordinatord dispatches fleet-scoped commands and routes rack-scoped ones to workers.",
		ConfigPath: pathutil.ConfigPath("coordinator.yaml"),
		Daemon:     coordinatorDaemon{},
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
