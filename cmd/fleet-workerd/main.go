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

// Command fleet-workerd runs the fleet controller's rack-local worker: DHCP
// hook discovery, the per-server state machine, the periodic stage-check
// loop, and switch validation for every rack this worker owns.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"go.racklord.io/fleet/internal/apiclient"
	"go.racklord.io/fleet/internal/cli"
	"go.racklord.io/fleet/internal/daemon"
	"go.racklord.io/fleet/internal/discovery"
	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/ipalloc"
	"go.racklord.io/fleet/internal/pathutil"
	"go.racklord.io/fleet/internal/provision"
	"go.racklord.io/fleet/internal/rpc"
	"go.racklord.io/fleet/internal/serverfsm"
	"go.racklord.io/fleet/internal/stagestart"
	"go.racklord.io/fleet/internal/switchvalidate"
	"go.racklord.io/fleet/internal/telemetry"
	"go.racklord.io/fleet/internal/validationagent"
	"go.racklord.io/fleet/internal/workerloop"
	"go.racklord.io/fleet/internal/workerrpc"
)

type workerDaemon struct{}

func (workerDaemon) Run(ctx context.Context, cfg *daemon.Config) error {
	log := daemon.NewLogger(cfg.Common.LogLevel, "fleet-workerd")

	shutdownTracing, err := telemetry.Init(ctx, "fleet-workerd")
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

	if cfg.Worker.CoordinatorEndpoint != "" {
		if err := registerWithCoordinator(ctx, cfg); err != nil {
			return fmt.Errorf("register with coordinator: %w", err)
		}
	}

	backendURL, err := url.Parse(cfg.OpenStack.AuthURL)
	if err != nil {
		return fmt.Errorf("parse openstack auth_url: %w", err)
	}

	apiClient := apiclient.NewAPIClient(backendURL, &http.Client{Timeout: 30 * time.Second})
	restBackend := provision.NewRESTBackend(apiClient)
	orch := provision.NewRESTOrchestrator(restBackend)
	dnsTool := provision.NewShellDNSTool("nsupdate", "127.0.0.1", 10*time.Second)
	adapter := provision.New(restBackend, dnsTool)

	starter := stagestart.New(store, adapter, orch, stagestart.Config{
		Net2VLAN: cfg.Worker.Net2VLAN,
		MgmtNet:  "mgmt",
	})

	fsm := serverfsm.New(store, starter, log)

	notifier := ipalloc.NewOMAPINotifier("127.0.0.1:7911", 10*time.Second)
	alloc := ipalloc.New(store, notifier, log)

	vendor := discovery.NewSNMPVendorDriver("public")

	ownedRacks, err := ownedRackIDs(ctx, store, cfg.Common.Location, cfg.Worker.Name)
	if err != nil {
		return fmt.Errorf("resolve owned racks: %w", err)
	}

	spareCluster, err := store.ClusterGetByName(ctx, cfg.Common.Location, cfg.Worker.SpareCluster)
	if err != nil {
		return fmt.Errorf("resolve spare cluster %s: %w", cfg.Worker.SpareCluster, err)
	}

	switchClient := switchvalidate.NewSNMPSwitchClient(store, "public")
	validator := switchvalidate.New(store, switchClient)

	disc, err := discovery.New(store, alloc, vendor, validator, discovery.Config{
		AutoEnrollEnabled: !cfg.Worker.DiscoveryDisabled,
		WorkerName:        cfg.Worker.Name,
		OwnedRackIDs:      ownedRacks,
		SpareClusterID:    spareCluster.ID,
		DefaultDNSZone:    cfg.Worker.DefaultDNSZone,
	}, log)
	if err != nil {
		return fmt.Errorf("new discovery engine: %w", err)
	}

	agent := validationagent.New(nil, cfg.Worker.ValidationPort)
	hooks := workerloop.NewChangeLogHooks(store)

	reg := prometheus.NewRegistry()

	loop := workerloop.New(store, fsm, validator, restBackend, agent, disc, hooks, workerloop.Config{
		OwnedRackIDs:  ownedRacks,
		ValidationTCP: fmt.Sprintf("%%s:%d", cfg.Worker.ValidationPort),
	}, log, reg)

	srv := rpc.NewServer(log)
	workerrpc.New(store, fsm, loop, disc, log).Register(srv)

	addr := fmt.Sprintf(":%d", cfg.Worker.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("worker listening")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	metricsAddr := fmt.Sprintf(":%d", cfg.Worker.Port+1)

	go func() {
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics listener exited")
		}
	}()

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	go func() {
		if err := loop.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			log.Error().Err(err).Msg("worker loop exited")
		}
	}()

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

// registerWithCoordinator upserts this worker's (name, location, endpoint)
// row via the coordinator's worker_register RPC, so rack_assign_worker and
// rack_trigger routing can find it.
func registerWithCoordinator(ctx context.Context, cfg *daemon.Config) error {
	client, err := rpc.NewClient(cfg.Worker.CoordinatorEndpoint)
	if err != nil {
		return err
	}
	defer client.Close()

	rctx := rpc.Context{Location: cfg.Common.Location, User: "fleet-workerd"}
	args := map[string]string{"name": cfg.Worker.Name, "endpoint": cfg.Worker.Endpoint}

	return client.Call(ctx, rctx, "worker_register", args, nil)
}

// ownedRackIDs resolves every rack in location currently assigned to the
// worker row named name. If that row does not exist yet, it returns an
// empty set.
func ownedRackIDs(ctx context.Context, store *inventory.Store, location, name string) (map[int64]bool, error) {
	racks, err := store.RackList(ctx, inventory.RackFilter{Location: location})
	if err != nil {
		return nil, err
	}

	worker, err := store.WorkerGetByName(ctx, location, name)
	if err != nil {
		return map[int64]bool{}, nil //nolint:nilerr // a not-yet-registered worker legitimately owns nothing yet
	}

	owned := make(map[int64]bool)

	for _, r := range racks {
		if r.WorkerID != nil && *r.WorkerID == worker.ID {
			owned[r.ID] = true
		}
	}

	return owned, nil
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := afero.NewOsFs()

	root := cli.RootCmd(ctx, fs, cli.Options{
		Use:        "fleet-workerd",
		Short:      "fleet-workerd drives discovery, validation, and provisioning for the racks it owns.",
		ConfigPath: pathutil.ConfigPath("worker.yaml"),
		Daemon:     workerDaemon{},
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
