// Package workerrpc registers a worker process's RPC methods (the far side
// of internal/coordinator's forwarding and the DHCP hook wire):
// rack_trigger, stop_server, and dhcp_hook, translating the JSON wire
// shapes into calls against the worker's own serverfsm.Machine,
// workerloop.Loop, and discovery.Engine.
package workerrpc

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"go.racklord.io/fleet/internal/coordinator"
	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/discovery"
	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/rpc"
	"go.racklord.io/fleet/internal/serverfsm"
	"go.racklord.io/fleet/internal/workerloop"
)

// Handlers binds one worker's components to RPC method names.
type Handlers struct {
	store     *inventory.Store
	fsm       *serverfsm.Machine
	loop      *workerloop.Loop
	discovery *discovery.Engine
	log       zerolog.Logger
}

func New(store *inventory.Store, fsm *serverfsm.Machine, loop *workerloop.Loop, disc *discovery.Engine, log zerolog.Logger) *Handlers {
	return &Handlers{store: store, fsm: fsm, loop: loop, discovery: disc, log: log.With().Str("component", "workerrpc").Logger()}
}

// Register binds every method this worker exposes onto srv.
func (h *Handlers) Register(srv *rpc.Server) {
	srv.Register("rack_trigger", h.rackTrigger)
	srv.Register("stop_server", h.stopServer)
	srv.Register("dhcp_hook", h.dhcpHook)
}

func (h *Handlers) rackTrigger(ctx context.Context, rctx rpc.Context, raw json.RawMessage) (any, error) {
	var args struct {
		RackName string                `json:"rack_name"`
		coordinator.TriggerArgs
	}

	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, ctlerrors.InvalidData("decode rack_trigger args: %v", err)
	}

	req, err := h.toTriggerRequest(ctx, rctx, args.RackName, args.TriggerArgs)
	if err != nil {
		return nil, err
	}

	results, err := h.fsm.RackTrigger(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make([]coordinator.TriggerResult, 0, len(results))
	for _, r := range results {
		out = append(out, coordinator.TriggerResult{ServerID: r.ServerID, Applied: r.Applied, Reason: r.Reason})
	}

	return out, nil
}

func (h *Handlers) toTriggerRequest(ctx context.Context, rctx rpc.Context, rackName string, args coordinator.TriggerArgs) (serverfsm.TriggerRequest, error) {
	req := serverfsm.TriggerRequest{
		Filter:    inventory.ServerFilter{Location: rctx.Location, RackName: rackName, Names: args.ServerNames},
		Role:      optionalString(args.Role),
		HDDType:   optionalString(args.HDDType),
		OSArgs:    optionalString(args.OSArgs),
		Initiator: args.Initiator,
	}

	if args.SetStatus != "" {
		s := inventory.Status(args.SetStatus)
		req.SetStatus = &s
	}

	if args.TargetStatus != "" {
		t := inventory.TargetStatus(args.TargetStatus)
		req.TargetStatus = &t
	}

	if args.Cluster != "" {
		c, err := h.store.ClusterGetByName(ctx, rctx.Location, args.Cluster)
		if err != nil {
			return serverfsm.TriggerRequest{}, err
		}

		req.ClusterID = &c.ID
	}

	return req, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func (h *Handlers) stopServer(ctx context.Context, _ rpc.Context, raw json.RawMessage) (any, error) {
	var args coordinator.StopArgs

	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, ctlerrors.InvalidData("decode stop_server args: %v", err)
	}

	if err := h.loop.StopServer(ctx, args.ServerID, args.LockID, args.Force); err != nil {
		return nil, err
	}

	return map[string]bool{"stopped": true}, nil
}

func (h *Handlers) dhcpHook(ctx context.Context, _ rpc.Context, raw json.RawMessage) (any, error) {
	var args struct {
		IPMIIP  string `json:"ipmi_ip"`
		IPMIMAC string `json:"ipmi_mac"`
		Force   bool   `json:"force"`
	}

	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, ctlerrors.InvalidData("decode dhcp_hook args: %v", err)
	}

	if err := h.discovery.DHCPHook(ctx, args.IPMIIP, args.IPMIMAC, args.Force); err != nil {
		return nil, err
	}

	return map[string]bool{"ok": true}, nil
}
