package workerloop

import (
	"context"

	"go.racklord.io/fleet/internal/inventory"
)

// changeLogHooks is a Hooks implementation that records every
// Validated/Provisioned transition to the inventory store's audit log. It
// is grounded on the source's HookBase default no-op base class, not
// IronicHook's much heavier OpenStack/Ironic chassis and node management,
// which this rewrite carries no client for.
type changeLogHooks struct {
	store *inventory.Store
}

// NewChangeLogHooks returns a Hooks that appends a change_log row on every
// Validated/Provisioned transition.
func NewChangeLogHooks(store *inventory.Store) Hooks {
	return changeLogHooks{store: store}
}

func (h changeLogHooks) Validated(ctx context.Context, sv *inventory.Server) error {
	return h.record(ctx, sv, "validated")
}

func (h changeLogHooks) Provisioned(ctx context.Context, sv *inventory.Server) error {
	return h.record(ctx, sv, "provisioned")
}

func (h changeLogHooks) record(ctx context.Context, sv *inventory.Server, transition string) error {
	after := map[string]any{"status": string(sv.Status), "transition": transition}
	return h.store.RecordChange(ctx, "server", sv.ID, nil, after)
}
