// Package coordinatorrpc registers the coordinator's operator-facing RPC
// methods (rack_create, rack_list, worker_register, worker_list,
// rack_assign_worker, asset_list, server_list, rack_trigger, stop_server), translating wire
// JSON into calls against internal/coordinator's Dispatcher.
package coordinatorrpc

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"go.racklord.io/fleet/internal/coordinator"
	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/rpc"
)

// Handlers binds the coordinator's Dispatcher to RPC method names.
type Handlers struct {
	dispatcher *coordinator.Dispatcher
	log        zerolog.Logger
}

func New(dispatcher *coordinator.Dispatcher, log zerolog.Logger) *Handlers {
	return &Handlers{dispatcher: dispatcher, log: log.With().Str("component", "coordinatorrpc").Logger()}
}

// Register binds every coordinator method, fleet- and rack-scoped, onto srv.
func (h *Handlers) Register(srv *rpc.Server) {
	srv.Register("rack_trigger", h.rackTrigger)
	srv.Register("stop_server", h.stopServer)
	srv.Register("rack_create", h.rackCreate)
	srv.Register("rack_list", h.rackList)
	srv.Register("worker_register", h.workerRegister)
	srv.Register("worker_list", h.workerList)
	srv.Register("rack_assign_worker", h.rackAssignWorker)
	srv.Register("asset_list", h.assetList)
	srv.Register("server_list", h.serverList)
}

func (h *Handlers) rackTrigger(ctx context.Context, rctx rpc.Context, raw json.RawMessage) (any, error) {
	var args struct {
		RackName string `json:"rack_name"`
		coordinator.TriggerArgs
	}

	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, ctlerrors.InvalidData("decode rack_trigger args: %v", err)
	}

	return h.dispatcher.RackTrigger(ctx, rctx, args.RackName, args.TriggerArgs)
}

func (h *Handlers) stopServer(ctx context.Context, rctx rpc.Context, raw json.RawMessage) (any, error) {
	var args struct {
		RackName string `json:"rack_name"`
		coordinator.StopArgs
	}

	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, ctlerrors.InvalidData("decode stop_server args: %v", err)
	}

	if err := h.dispatcher.StopServer(ctx, rctx, args.RackName, args.ServerID, args.LockID, args.Force); err != nil {
		return nil, err
	}

	return map[string]bool{"stopped": true}, nil
}

func (h *Handlers) rackCreate(ctx context.Context, rctx rpc.Context, raw json.RawMessage) (any, error) {
	var r inventory.Rack

	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, ctlerrors.InvalidData("decode rack_create args: %v", err)
	}

	return h.dispatcher.RackCreate(ctx, rctx, &r)
}

func (h *Handlers) rackList(ctx context.Context, rctx rpc.Context, _ json.RawMessage) (any, error) {
	return h.dispatcher.RackList(ctx, rctx)
}

func (h *Handlers) workerRegister(ctx context.Context, rctx rpc.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Name     string `json:"name"`
		Endpoint string `json:"endpoint"`
	}

	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, ctlerrors.InvalidData("decode worker_register args: %v", err)
	}

	return h.dispatcher.WorkerRegister(ctx, rctx, args.Name, args.Endpoint)
}

func (h *Handlers) workerList(ctx context.Context, rctx rpc.Context, _ json.RawMessage) (any, error) {
	return h.dispatcher.WorkerList(ctx, rctx)
}

func (h *Handlers) rackAssignWorker(ctx context.Context, rctx rpc.Context, raw json.RawMessage) (any, error) {
	var args struct {
		RackName string `json:"rack_name"`
		WorkerID *int64 `json:"worker_id"`
	}

	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, ctlerrors.InvalidData("decode rack_assign_worker args: %v", err)
	}

	if err := h.dispatcher.RackAssignWorker(ctx, rctx, args.RackName, args.WorkerID); err != nil {
		return nil, err
	}

	return map[string]bool{"ok": true}, nil
}

func (h *Handlers) assetList(ctx context.Context, rctx rpc.Context, raw json.RawMessage) (any, error) {
	var f inventory.AssetFilter

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, ctlerrors.InvalidData("decode asset_list args: %v", err)
		}
	}

	return h.dispatcher.AssetList(ctx, rctx, f)
}

func (h *Handlers) serverList(ctx context.Context, rctx rpc.Context, raw json.RawMessage) (any, error) {
	var f inventory.ServerFilter

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, ctlerrors.InvalidData("decode server_list args: %v", err)
		}
	}

	return h.dispatcher.ServerList(ctx, rctx, f)
}
