// Package coordinator implements the fleet controller's operator-facing
// front-end (component C8): a stateless dispatcher over the inventory store
// and the worker RPC transport. Every call carries an rpc.Context; location
// enforcement and rack-scoped-vs-fleet-scoped routing are its two jobs.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/rpc"
	"go.racklord.io/fleet/internal/telemetry"
)

var tracer = telemetry.Tracer("go.racklord.io/fleet/internal/coordinator")

// workerCacheTTL is the 60-second expiry for the rack->worker routing cache.
const workerCacheTTL = 60 * time.Second

// WorkerDialer returns an rpc.Client for a worker's registered endpoint,
// left pluggable so tests can substitute an in-memory transport.
type WorkerDialer func(endpoint string) (*rpc.Client, error)

// Dispatcher is C8: it executes fleet-scoped commands directly against the
// store and forwards rack-scoped commands to the resolved owning worker.
type Dispatcher struct {
	store *inventory.Store
	dial  WorkerDialer
	log   zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry // key: location+"/"+rackName
}

type cacheEntry struct {
	worker    *inventory.Worker
	expiresAt time.Time
}

func New(store *inventory.Store, dial WorkerDialer, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store: store,
		dial:  dial,
		log:   log.With().Str("component", "coordinator").Logger(),
		cache: make(map[string]cacheEntry),
	}
}

// checkLocation enforces "every read/write must filter by
// Context.location; cross-location references fail with a conflict."
func checkLocation(rctx rpc.Context, entityLocation string) error {
	if rctx.Location == "" {
		return ctlerrors.InvalidData("context carries no location")
	}

	if entityLocation != "" && entityLocation != rctx.Location {
		return ctlerrors.Conflict("location %s does not own resource in location %s", rctx.Location, entityLocation)
	}

	return nil
}

// ownerOf resolves the worker owning rackName in rctx.Location, consulting
// and refreshing the 60-second cache.
func (d *Dispatcher) ownerOf(ctx context.Context, rctx rpc.Context, rackName string) (*inventory.Worker, error) {
	key := rctx.Location + "/" + rackName

	d.mu.Lock()
	entry, ok := d.cache[key]
	d.mu.Unlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.worker, nil
	}

	rack, err := d.store.RackGetByName(ctx, rctx.Location, rackName)
	if err != nil {
		return nil, err
	}

	if rack.WorkerID == nil {
		return nil, ctlerrors.NotFound("rack %s has no owning worker", rackName)
	}

	worker, err := d.store.WorkerGetByID(ctx, *rack.WorkerID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cache[key] = cacheEntry{worker: worker, expiresAt: time.Now().Add(workerCacheTTL)}
	d.mu.Unlock()

	return worker, nil
}

// forward resolves rackName's owning worker and calls fn on it, decoding
// the reply into out.
func (d *Dispatcher) forward(ctx context.Context, rctx rpc.Context, rackName, fn string, args, out any) error {
	ctx, span := tracer.Start(ctx, "dispatch."+fn)
	defer span.End()

	span.SetAttributes(
		attribute.String("fleet.rack", rackName),
		attribute.String("fleet.location", rctx.Location),
	)

	worker, err := d.ownerOf(ctx, rctx, rackName)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("resolve owner of rack %s: %w", rackName, err)
	}

	span.SetAttributes(attribute.String("fleet.worker", worker.Name))

	client, err := d.dial(worker.Endpoint)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dial worker %s: %w", worker.Name, err)
	}

	if err := client.Call(ctx, rctx, fn, args, out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

// RackTrigger forwards an operator's rack_trigger call to the rack's owning
// worker (rack-scoped).
func (d *Dispatcher) RackTrigger(ctx context.Context, rctx rpc.Context, rackName string, req TriggerArgs) ([]TriggerResult, error) {
	rack, err := d.store.RackGetByName(ctx, rctx.Location, rackName)
	if err != nil {
		return nil, err
	}

	if err := checkLocation(rctx, rack.Location); err != nil {
		return nil, err
	}

	var out []TriggerResult

	if err := d.forward(ctx, rctx, rackName, "rack_trigger", req, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// StopServer forwards stop_server(sid, lock_id, force) to the server's rack's
// owning worker.
func (d *Dispatcher) StopServer(ctx context.Context, rctx rpc.Context, rackName string, id int64, lockID string, force bool) error {
	return d.forward(ctx, rctx, rackName, "stop_server", StopArgs{ServerID: id, LockID: lockID, Force: force}, nil)
}

// RackCreate is fleet-scoped: executed directly against C1.
func (d *Dispatcher) RackCreate(ctx context.Context, rctx rpc.Context, r *inventory.Rack) (*inventory.Rack, error) {
	if err := checkLocation(rctx, r.Location); err != nil {
		return nil, err
	}

	return d.store.RackCreate(ctx, r)
}

// RackList is fleet-scoped, implicitly filtered to rctx.Location.
func (d *Dispatcher) RackList(ctx context.Context, rctx rpc.Context) ([]*inventory.Rack, error) {
	if rctx.Location == "" {
		return nil, ctlerrors.InvalidData("context carries no location")
	}

	return d.store.RackList(ctx, inventory.RackFilter{Location: rctx.Location})
}

// WorkerRegister is fleet-scoped: a worker upserts itself by (name, location)
// on startup.
func (d *Dispatcher) WorkerRegister(ctx context.Context, rctx rpc.Context, name, endpoint string) (*inventory.Worker, error) {
	if rctx.Location == "" {
		return nil, ctlerrors.InvalidData("context carries no location")
	}

	w, err := d.store.WorkerUpsert(ctx, name, rctx.Location, endpoint)
	if err != nil {
		return nil, err
	}

	d.invalidateLocation(rctx.Location)

	return w, nil
}

// WorkerList is fleet-scoped, implicitly filtered to rctx.Location.
func (d *Dispatcher) WorkerList(ctx context.Context, rctx rpc.Context) ([]*inventory.Worker, error) {
	if rctx.Location == "" {
		return nil, ctlerrors.InvalidData("context carries no location")
	}

	return d.store.WorkerList(ctx, rctx.Location)
}

// RackAssignWorker is fleet-scoped: it mutates the owning worker for
// routing purposes, and invalidates any cached route for the rack.
func (d *Dispatcher) RackAssignWorker(ctx context.Context, rctx rpc.Context, rackName string, workerID *int64) error {
	rack, err := d.store.RackGetByName(ctx, rctx.Location, rackName)
	if err != nil {
		return err
	}

	if err := checkLocation(rctx, rack.Location); err != nil {
		return err
	}

	if err := d.store.RackSetWorker(ctx, rack.ID, workerID); err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.cache, rctx.Location+"/"+rackName)
	d.mu.Unlock()

	return nil
}

func (d *Dispatcher) invalidateLocation(location string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key := range d.cache {
		if len(key) > len(location) && key[:len(location)] == location && key[len(location)] == '/' {
			delete(d.cache, key)
		}
	}
}

// AssetList is fleet-scoped.
func (d *Dispatcher) AssetList(ctx context.Context, rctx rpc.Context, f inventory.AssetFilter) ([]*inventory.Asset, error) {
	if rctx.Location == "" {
		return nil, ctlerrors.InvalidData("context carries no location")
	}

	f.Location = rctx.Location

	return d.store.AssetList(ctx, f)
}

// ServerList is fleet-scoped (spans racks within a location).
func (d *Dispatcher) ServerList(ctx context.Context, rctx rpc.Context, f inventory.ServerFilter) ([]*inventory.Server, error) {
	if rctx.Location == "" {
		return nil, ctlerrors.InvalidData("context carries no location")
	}

	f.Location = rctx.Location

	return d.store.ServerList(ctx, f)
}

// TriggerArgs is the wire shape of one rack_trigger call, mirroring
// serverfsm.TriggerRequest but JSON-friendly (string statuses, not the
// typed enums) for the RPC boundary.
type TriggerArgs struct {
	ServerNames  []string `json:"server_names,omitempty"`
	SetStatus    string   `json:"set_status,omitempty"`
	Role         string   `json:"role,omitempty"`
	Cluster      string   `json:"cluster,omitempty"`
	TargetStatus string   `json:"target_status,omitempty"`
	HDDType      string   `json:"hdd_type,omitempty"`
	OSArgs       string   `json:"os_args,omitempty"`
	Initiator    string   `json:"initiator"`
}

// TriggerResult mirrors serverfsm.TriggerResult over the wire.
type TriggerResult struct {
	ServerID int64  `json:"server_id"`
	Applied  bool   `json:"applied"`
	Reason   string `json:"reason,omitempty"`
}

// StopArgs is the wire shape of one stop_server call.
type StopArgs struct {
	ServerID int64  `json:"server_id"`
	LockID   string `json:"lock_id"`
	Force    bool   `json:"force"`
}
