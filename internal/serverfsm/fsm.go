// Package serverfsm implements the fleet controller's per-server state
// machine (component C4): tick-driven transitions, error routing, and
// operator-trigger validation, all expressed over inventory.Server's
// optimistic-concurrency CAS.
package serverfsm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
)

// Outcome is what next() decided to do, for the caller (workerloop) to act on.
type Outcome string

const (
	OutcomeNoop    Outcome = "noop"
	OutcomeStarted Outcome = "started"
)

// Starter fires the fire-and-forget RPC that kicks off S0→S1 or S1→S2 on the
// rack's worker. Implemented by the RPC client; faked in tests.
type Starter interface {
	StartValidation(ctx context.Context, server *inventory.Server) error
	StartProvisioning(ctx context.Context, server *inventory.Server) error
}

// Machine wraps the inventory store with C4's transition policy.
type Machine struct {
	store   *inventory.Store
	starter Starter
	log     zerolog.Logger
}

func New(store *inventory.Store, starter Starter, log zerolog.Logger) *Machine {
	return &Machine{store: store, starter: starter, log: log.With().Str("component", "serverfsm").Logger()}
}

// Next implements the per-tick `next` policy against the server identified
// by id, CAS'd on expectVersion so a stale caller fails instead of clobbering
// a concurrent transition.
func (m *Machine) Next(ctx context.Context, id, expectVersion int64) (Outcome, error) {
	sv, err := m.store.ServerGetByID(ctx, id)
	if err != nil {
		return "", err
	}

	if sv.Version != expectVersion {
		return "", ctlerrors.VersionConflict(id)
	}

	if sv.Status == inventory.Status(sv.TargetStatus) {
		if _, err := m.store.ServerCAS(ctx, id, expectVersion, func(sv *inventory.Server) error {
			sv.LockID = ""
			sv.Message = "Target status ok"
			return nil
		}); err != nil {
			return "", err
		}

		return OutcomeNoop, nil
	}

	switch sv.Status {
	case inventory.StatusUnmanaged:
		return m.start(ctx, id, expectVersion, inventory.StatusValidating, m.starter.StartValidation)
	case inventory.StatusValidated:
		return m.start(ctx, id, expectVersion, inventory.StatusProvisioning, m.starter.StartProvisioning)
	default:
		if _, err := m.store.ServerCAS(ctx, id, expectVersion, func(sv *inventory.Server) error {
			sv.LockID = ""
			return nil
		}); err != nil {
			return "", err
		}

		return OutcomeNoop, nil
	}
}

func (m *Machine) start(ctx context.Context, id, expectVersion int64, next inventory.Status, fire func(context.Context, *inventory.Server) error) (Outcome, error) {
	sv, err := m.store.ServerCAS(ctx, id, expectVersion, func(sv *inventory.Server) error {
		sv.Status = next
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := fire(ctx, sv); err != nil {
		return "", fmt.Errorf("start %s for server id=%d: %w", next, id, err)
	}

	return OutcomeStarted, nil
}

// Error implements the error(message) transition: Validating routes to
// ValidatedWithErrors, Provisioning to ProvisionedWithErrors, anything else
// to Unknown. Always clears lock_id and truncates the message.
func (m *Machine) Error(ctx context.Context, id int64, message string) error {
	sv, err := m.store.ServerGetByID(ctx, id)
	if err != nil {
		return err
	}

	var next inventory.Status

	switch sv.Status {
	case inventory.StatusValidating:
		next = inventory.StatusValidatedWithErrors
	case inventory.StatusProvisioning:
		next = inventory.StatusProvisionedWithErrors
	default:
		next = inventory.StatusUnknown
	}

	_, err = m.store.ServerCAS(ctx, id, sv.Version, func(sv *inventory.Server) error {
		sv.Status = next
		sv.LockID = ""
		sv.Message = inventory.TruncateMessage(message)
		return nil
	})

	return err
}

// TriggerRequest is one operator rack_trigger call: a batch update applied
// across every server matching filter.
type TriggerRequest struct {
	Filter       inventory.ServerFilter
	SetStatus    *inventory.Status
	Role         *string
	ClusterID    *int64
	TargetStatus *inventory.TargetStatus
	HDDType      *string
	OSArgs       *string
	Initiator    string
}

// TriggerResult records the per-server outcome of one RackTrigger call.
type TriggerResult struct {
	ServerID int64
	Applied  bool
	Reason   string
}

// RackTrigger implements the operator batch-update contract: guard each
// matched server individually, and only mutate the ones that pass every
// guard.
func (m *Machine) RackTrigger(ctx context.Context, req TriggerRequest) ([]TriggerResult, error) {
	servers, err := m.store.ServerList(ctx, req.Filter)
	if err != nil {
		return nil, err
	}

	results := make([]TriggerResult, 0, len(servers))

	for _, sv := range servers {
		asset, err := m.store.AssetGetByID(ctx, sv.AssetID)
		if err != nil {
			return nil, fmt.Errorf("load asset for server id=%d: %w", sv.ID, err)
		}

		reason, ok := guardTrigger(sv, asset, req)
		if !ok {
			results = append(results, TriggerResult{ServerID: sv.ID, Applied: false, Reason: reason})
			continue
		}

		lockID := uuid.NewString()

		_, err := m.store.ServerCAS(ctx, sv.ID, sv.Version, func(sv *inventory.Server) error {
			if req.SetStatus != nil {
				sv.Status = *req.SetStatus
			}

			if req.Role != nil {
				sv.Role = *req.Role
			}

			if req.ClusterID != nil {
				sv.ClusterID = req.ClusterID
			}

			if req.TargetStatus != nil {
				sv.TargetStatus = *req.TargetStatus
			}

			if req.HDDType != nil {
				sv.HDDType = *req.HDDType
			}

			if req.OSArgs != nil {
				sv.OSArgs = *req.OSArgs
			}

			sv.LockID = lockID
			sv.Initiator = req.Initiator

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("apply rack_trigger to server id=%d: %w", sv.ID, err)
		}

		if _, err := m.Next(ctx, sv.ID, sv.Version+1); err != nil {
			return nil, fmt.Errorf("next() after rack_trigger on server id=%d: %w", sv.ID, err)
		}

		results = append(results, TriggerResult{ServerID: sv.ID, Applied: true})
	}

	return results, nil
}

// guardTrigger applies the five per-server trigger guards against
// the state the update WOULD produce, without mutating sv.
func guardTrigger(sv *inventory.Server, asset *inventory.Asset, req TriggerRequest) (reason string, ok bool) {
	if sv.LockID != "" {
		return "busy", false
	}

	if asset.Protected {
		return "protected", false
	}

	if sv.Meta.Ironicated {
		return "under external control", false
	}

	resultStatus := sv.Status
	if req.SetStatus != nil {
		resultStatus = *req.SetStatus
	}

	resultTarget := sv.TargetStatus
	if req.TargetStatus != nil {
		resultTarget = *req.TargetStatus
	}

	if resultStatus.Index() > resultTarget.Index() {
		return "target less than current, ignored", false
	}

	if resultTarget.Index() >= inventory.StatusProvisioned.Index() {
		resultRole := sv.Role
		if req.Role != nil {
			resultRole = *req.Role
		}

		resultCluster := sv.ClusterID
		if req.ClusterID != nil {
			resultCluster = req.ClusterID
		}

		if resultRole == "" || resultCluster == nil {
			return "target requires cluster and role, ignored", false
		}
	}

	return "", true
}

// Stoppable statuses.
func Stoppable(s inventory.Status) bool {
	return s == inventory.StatusValidating || s == inventory.StatusProvisioning
}

// ErrProtectedAsset is reported by guardTrigger-adjacent callers that need
// to distinguish "protected" without re-deriving the guard.
var ErrProtectedAsset = ctlerrors.Conflict("asset is protected")
