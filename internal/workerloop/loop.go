// Package workerloop implements the fleet controller's worker loop
// (component C5): a 30-second scan of owned racks that spawns bounded,
// mutually-exclusive stage-check tasks driving servers through
// Validating->Validated and Provisioning->Provisioned.
package workerloop

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/serverfsm"
	"go.racklord.io/fleet/internal/switchvalidate"
	"go.racklord.io/fleet/internal/telemetry"
	"go.racklord.io/fleet/internal/validationagent"
)

const defaultScanInterval = 30 * time.Second

var tracer = telemetry.Tracer("go.racklord.io/fleet/internal/workerloop")

// BuildChecker is the slice of provision.Backend the stage checks need: a
// back-end-neutral "is this interface's build complete" probe.
type BuildChecker interface {
	BuildComplete(ctx context.Context, serial, iface string) (done bool, message string, err error)
}

// ValidationAgent is the slice of the in-band validation agent HTTP client
// check_validated needs: the server's self-reported asset identity and
// NICs, and the hw_info its SKU match is judged against.
type ValidationAgent interface {
	ServerInfo(ctx context.Context, mgmtIP string, serverDict map[string]any) (*validationagent.AssetInfo, []validationagent.Interface, error)
	ValidationScript(ctx context.Context, mgmtIP string, serverDict map[string]any) (*validationagent.HWInfo, error)
}

// Finalizer is C3's one-time discovery finalization: backfilling asset
// brand/model, interfaces, server number/rack unit, and the server's
// permanent name/FQDN, gated on the asset never having been finalized
// before.
type Finalizer interface {
	Finalize(ctx context.Context, sv *inventory.Server, asset *validationagent.AssetInfo, interfaces []validationagent.Interface) (*inventory.Server, error)
}

// serverDict builds the wire shape the validation agent expects a server's
// own record to look like, mirroring the attributes the source's canned
// scripts read off server_dict (asset brand for RAID driver selection,
// hdd_type for RAID level, description for the legacy hw_info parse).
func serverDict(sv *inventory.Server, asset *inventory.Asset) map[string]any {
	return map[string]any{
		"id":       sv.ID,
		"name":     sv.Name,
		"hdd_type": sv.HDDType,
		"asset": map[string]any{
			"brand":  asset.Brand,
			"model":  asset.Model,
			"serial": asset.Serial,
		},
	}
}

// TCPProbe dials addr and returns nil if something answers, grounded on the
// "probes the validation-agent TCP port" step of check_validated.
type TCPProbe func(ctx context.Context, addr string) error

// DefaultTCPProbe dials addr with a short timeout via the standard net
// package; no third-party library improves on a bare TCP dial.
func DefaultTCPProbe(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: 5 * time.Second}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	return conn.Close()
}

// Hooks are optional callbacks fired after a server reaches Validated or
// Provisioned, e.g. to notify downstream systems. A nil Hooks is legal; its
// methods are then no-ops.
type Hooks interface {
	Validated(ctx context.Context, sv *inventory.Server) error
	Provisioned(ctx context.Context, sv *inventory.Server) error
}

type noopHooks struct{}

func (noopHooks) Validated(context.Context, *inventory.Server) error   { return nil }
func (noopHooks) Provisioned(context.Context, *inventory.Server) error { return nil }

// Config selects which racks this worker process owns, mirroring
// discovery.Config's ownership model.
type Config struct {
	OwnedRackIDs  map[int64]bool
	ValidationTCP string // "host:port" template with %s for the server's mgmt IP, e.g. "%s:8443"
	ScanInterval  time.Duration
}

// Loop is the C5 worker loop: periodic scan plus per-server stage-check
// tasks, bounded by a Registry enforcing mutual exclusion.
type Loop struct {
	store     *inventory.Store
	fsm       *serverfsm.Machine
	switches  *switchvalidate.Validator
	backend   BuildChecker
	agent     ValidationAgent
	finalizer Finalizer
	tcpProbe  TCPProbe
	hooks     Hooks
	registry  *Registry
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics
}

func New(
	store *inventory.Store,
	fsm *serverfsm.Machine,
	switches *switchvalidate.Validator,
	backend BuildChecker,
	agent ValidationAgent,
	finalizer Finalizer,
	hooks Hooks,
	cfg Config,
	log zerolog.Logger,
	reg *prometheus.Registry,
) *Loop {
	if hooks == nil {
		hooks = noopHooks{}
	}

	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = defaultScanInterval
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Loop{
		store:     store,
		fsm:       fsm,
		switches:  switches,
		backend:   backend,
		agent:     agent,
		finalizer: finalizer,
		tcpProbe:  DefaultTCPProbe,
		hooks:     hooks,
		registry:  NewRegistry(),
		cfg:       cfg,
		log:       log,
		metrics:   newMetrics(reg),
	}
}

// Registry exposes the task registry so RPC handlers can implement
// stop_server.
func (l *Loop) Registry() *Registry { return l.registry }

// Run blocks, ticking every cfg.ScanInterval until ctx is canceled. Each
// tick's scan runs synchronously with respect to the ticker (a slow scan
// delays, never overlaps, the next tick) but spawns independent goroutines
// per server that outlive the scan itself.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.log.Error().Err(err).Msg("worker loop scan failed")
			}
		}
	}
}

// Tick runs one scan: enumerate owned racks, spawn stage-check tasks for
// their Validating and Provisioning servers.
func (l *Loop) Tick(ctx context.Context) error {
	l.metrics.ticks.Inc()

	racks, err := l.store.RackList(ctx, inventory.RackFilter{})
	if err != nil {
		return fmt.Errorf("list racks: %w", err)
	}

	for _, rack := range racks {
		if !l.cfg.OwnedRackIDs[rack.ID] {
			continue
		}

		if err := l.scanRack(ctx, rack); err != nil {
			l.log.Error().Err(err).Str("rack", rack.Name).Msg("rack scan failed")
		}
	}

	return nil
}

func (l *Loop) scanRack(ctx context.Context, rack *inventory.Rack) error {
	validating, err := l.store.ServerList(ctx, inventory.ServerFilter{
		RackName: rack.Name, FromStatus: []inventory.Status{inventory.StatusValidating},
	})
	if err != nil {
		return fmt.Errorf("list validating servers: %w", err)
	}

	for _, sv := range validating {
		l.maybeSpawn(ctx, sv, "check_validated", l.checkValidated)
	}

	provisioning, err := l.store.ServerList(ctx, inventory.ServerFilter{
		RackName: rack.Name, FromStatus: []inventory.Status{inventory.StatusProvisioning},
	})
	if err != nil {
		return fmt.Errorf("list provisioning servers: %w", err)
	}

	for _, sv := range provisioning {
		l.maybeSpawn(ctx, sv, "check_provisioned", l.checkProvisioned)
	}

	return nil
}

func (l *Loop) maybeSpawn(ctx context.Context, sv *inventory.Server, stage string, task func(context.Context, *inventory.Server) error) {
	if sv.Meta.Ironicated || sv.LockID == "" {
		return
	}

	taskCtx, err := l.registry.Claim(ctx, sv.ID)
	if err != nil {
		return // already in flight
	}

	l.metrics.inFlight.Inc()

	go func() {
		defer l.registry.Release(sv.ID)
		defer l.metrics.inFlight.Dec()

		spanCtx, span := tracer.Start(taskCtx, "stage-check."+stage)
		span.SetAttributes(
			attribute.Int64("fleet.server_id", sv.ID),
			attribute.String("fleet.stage", stage),
		)

		start := time.Now()
		err := task(spanCtx, sv)
		l.metrics.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())

		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()

		if cause := context.Cause(taskCtx); errors.Is(err, context.Canceled) && cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %w", cause, err)
		}

		l.handleOutcome(context.WithoutCancel(ctx), sv, stage, err)
	}()
}

func (l *Loop) handleOutcome(ctx context.Context, sv *inventory.Server, stage string, err error) {
	switch {
	case err == nil:
		l.metrics.stageErrors.WithLabelValues(stage, "none").Inc()
	case errors.Is(err, ctlerrors.ErrIgnore):
		l.metrics.stageErrors.WithLabelValues(stage, "ignore").Inc()

		if _, casErr := l.store.ServerCAS(ctx, sv.ID, sv.Version, func(s *inventory.Server) error {
			s.Message = inventory.TruncateMessage(err.Error())
			return nil
		}); casErr != nil {
			l.log.Error().Err(casErr).Int64("server_id", sv.ID).Msg("failed to persist ignore message")
		}
	case errors.Is(err, context.Canceled):
		l.metrics.stageErrors.WithLabelValues(stage, "stopped").Inc()

		if fsmErr := l.fsm.Error(ctx, sv.ID, err.Error()); fsmErr != nil {
			l.log.Error().Err(fsmErr).Int64("server_id", sv.ID).Msg("failed to record stop_server error")
		}
	default:
		l.metrics.stageErrors.WithLabelValues(stage, "error").Inc()

		if fsmErr := l.fsm.Error(ctx, sv.ID, err.Error()); fsmErr != nil {
			l.log.Error().Err(fsmErr).Int64("server_id", sv.ID).Msg("failed to record stage-check error")
		}
	}
}

// checkValidated implements check_validated(sid, lock_id): build-complete
// on mgmt, validation-agent TCP probe, in-band validation script, SKU
// match + rack quota, per-server switch validation, transition to
// Validated, hook, then C4.next.
func (l *Loop) checkValidated(ctx context.Context, sv *inventory.Server) error {
	asset, rack, err := l.assetAndRack(ctx, sv)
	if err != nil {
		return err
	}

	done, message, err := l.backend.BuildComplete(ctx, asset.Serial, "mgmt")
	if err != nil {
		return fmt.Errorf("mgmt build status: %w", err)
	}

	if !done {
		return ctlerrors.Ignore("mgmt build not complete: %s", message)
	}

	if l.cfg.ValidationTCP != "" {
		addr := fmt.Sprintf(l.cfg.ValidationTCP, sv.PXEIP)
		if err := l.tcpProbe(ctx, addr); err != nil {
			return ctlerrors.Ignore("validation agent unreachable: %v", err)
		}
	}

	if l.agent != nil {
		dict := serverDict(sv, asset)

		assetInfo, interfaces, err := l.agent.ServerInfo(ctx, sv.PXEIP, dict)
		if err != nil {
			return fmt.Errorf("validation agent server_info: %w", err)
		}

		if l.finalizer != nil {
			updated, err := l.finalizer.Finalize(ctx, sv, assetInfo, interfaces)
			if err != nil {
				return fmt.Errorf("finalize discovery: %w", err)
			}

			sv = updated
		}

		hw, err := l.agent.ValidationScript(ctx, sv.PXEIP, dict)
		if err != nil {
			return fmt.Errorf("validation agent validation_script: %w", err)
		}

		sku, err := l.store.SKUMatch(ctx, hw.CPU, hw.RAM, hw.Disks)
		if err != nil {
			return err
		}

		skuID := sku.ID

		updated, err := l.store.ServerCAS(ctx, sv.ID, sv.Version, func(s *inventory.Server) error {
			s.SKUID = &skuID
			return nil
		})
		if err != nil {
			return fmt.Errorf("persist sku match: %w", err)
		}

		sv = updated
	}

	if err := l.matchSKUAndQuota(ctx, rack, sv); err != nil {
		return err
	}

	if err := l.validateAgainstRackSwitches(ctx, rack, sv); err != nil {
		return err
	}

	updated, err := l.store.ServerCAS(ctx, sv.ID, sv.Version, func(s *inventory.Server) error {
		s.Status = inventory.StatusValidated
		s.Message = "validated"
		s.LockID = ""

		return nil
	})
	if err != nil {
		return fmt.Errorf("persist validated: %w", err)
	}

	if err := l.hooks.Validated(ctx, updated); err != nil {
		l.log.Warn().Err(err).Int64("server_id", updated.ID).Msg("validated hook failed")
	}

	_, err = l.fsm.Next(ctx, updated.ID, updated.Version)

	return err
}

// checkProvisioned implements check_provisioned(sid, lock_id).
func (l *Loop) checkProvisioned(ctx context.Context, sv *inventory.Server) error {
	asset, err := l.store.AssetGetByID(ctx, sv.AssetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}

	done, message, err := l.backend.BuildComplete(ctx, asset.Serial, "production")
	if err != nil {
		return fmt.Errorf("production build status: %w", err)
	}

	if !done {
		_, err := l.store.ServerCAS(ctx, sv.ID, sv.Version, func(s *inventory.Server) error {
			s.Message = inventory.TruncateMessage(message)
			return nil
		})

		return err
	}

	updated, err := l.store.ServerCAS(ctx, sv.ID, sv.Version, func(s *inventory.Server) error {
		s.Status = inventory.StatusProvisioned
		s.Message = "provisioned"
		s.LockID = ""

		return nil
	})
	if err != nil {
		return fmt.Errorf("persist provisioned: %w", err)
	}

	if err := l.hooks.Provisioned(ctx, updated); err != nil {
		l.log.Warn().Err(err).Int64("server_id", updated.ID).Msg("provisioned hook failed")
	}

	_, err = l.fsm.Next(ctx, updated.ID, updated.Version)

	return err
}

// StopServer implements stop_server(sid, lock_id): only
// Validating/Provisioning are stoppable; if an in-process task is found it
// is cancelled cooperatively (the task itself routes the resulting
// context.Canceled through C4.error). If no task is running, force=true
// clears lock_id directly via C4.error instead.
func (l *Loop) StopServer(ctx context.Context, id int64, lockID string, force bool) error {
	sv, err := l.store.ServerGetByID(ctx, id)
	if err != nil {
		return err
	}

	if sv.LockID != lockID {
		return ctlerrors.Conflict("server id=%d: lock_id mismatch", id)
	}

	if !serverfsm.Stoppable(sv.Status) {
		return ctlerrors.InvalidData("server id=%d: status %s is not stoppable", id, sv.Status)
	}

	if l.registry.Stop(id) {
		return nil
	}

	if !force {
		return ctlerrors.Conflict("server id=%d: no running task found, retry with force", id)
	}

	return l.fsm.Error(ctx, id, "stopped by user: force-unlocked, no running task")
}

func (l *Loop) assetAndRack(ctx context.Context, sv *inventory.Server) (*inventory.Asset, *inventory.Rack, error) {
	asset, err := l.store.AssetGetByID(ctx, sv.AssetID)
	if err != nil {
		return nil, nil, fmt.Errorf("load asset: %w", err)
	}

	if asset.RackID == nil {
		return nil, nil, ctlerrors.InvalidData("server %s's asset has no rack", sv.Name)
	}

	rack, err := l.store.RackGetByID(ctx, *asset.RackID)
	if err != nil {
		return nil, nil, fmt.Errorf("load rack: %w", err)
	}

	return asset, rack, nil
}

func (l *Loop) matchSKUAndQuota(ctx context.Context, rack *inventory.Rack, sv *inventory.Server) error {
	if sv.SKUID == nil {
		return nil
	}

	skus, err := l.store.SKUGetAll(ctx)
	if err != nil {
		return fmt.Errorf("load skus: %w", err)
	}

	var matchedName string

	for _, sku := range skus {
		if sku.ID == *sv.SKUID {
			matchedName = sku.Name
			break
		}
	}

	if matchedName == "" {
		return ctlerrors.InvalidData("server %s references unknown sku", sv.Name)
	}

	if rack.SKUQuota <= 0 {
		return nil
	}

	inRack, err := l.store.ServerList(ctx, inventory.ServerFilter{RackName: rack.Name, SKUName: matchedName})
	if err != nil {
		return fmt.Errorf("count sku usage: %w", err)
	}

	if len(inRack) > rack.SKUQuota {
		return ctlerrors.Conflict("rack %s sku quota (%d) exceeded for sku %s", rack.Name, rack.SKUQuota, matchedName)
	}

	return nil
}

func (l *Loop) validateAgainstRackSwitches(ctx context.Context, rack *inventory.Rack, sv *inventory.Server) error {
	switches, err := l.store.AssetList(ctx, inventory.AssetFilter{RackName: rack.Name, Type: inventory.AssetTypeNetworkDevice})
	if err != nil {
		return fmt.Errorf("list rack switches: %w", err)
	}

	for _, a := range switches {
		sw, err := l.store.SwitchGetByAssetID(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("load switch: %w", err)
		}

		if err := l.switches.ValidateForServer(ctx, rack, sw, sv); err != nil {
			return err
		}
	}

	return nil
}
