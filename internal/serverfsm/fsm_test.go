package serverfsm

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"go.racklord.io/fleet/internal/inventory"
	testdb "go.racklord.io/fleet/internal/testing/db"
)

type fakeStarter struct {
	validationStarted   []int64
	provisioningStarted []int64
}

func (f *fakeStarter) StartValidation(ctx context.Context, sv *inventory.Server) error {
	f.validationStarted = append(f.validationStarted, sv.ID)
	return nil
}

func (f *fakeStarter) StartProvisioning(ctx context.Context, sv *inventory.Server) error {
	f.provisioningStarted = append(f.provisioningStarted, sv.ID)
	return nil
}

func newTestMachine(t *testing.T) (*Machine, *inventory.Store, *fakeStarter) {
	t.Helper()

	sqlDB, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })

	store := inventory.New(sqlDB)
	starter := &fakeStarter{}

	return New(store, starter, zerolog.Nop()), store, starter
}

func mustServer(t *testing.T, store *inventory.Store, name string, status inventory.Status, target inventory.TargetStatus) *inventory.Server {
	t.Helper()

	ctx := context.Background()

	a, err := store.AssetCreate(ctx, &inventory.Asset{Serial: name, Type: inventory.AssetTypeServer, Status: inventory.AssetStatusNew})
	require.NoError(t, err)

	sv, err := store.ServerCreate(ctx, &inventory.Server{
		Name:         name,
		Status:       status,
		TargetStatus: target,
		AssetID:      a.ID,
	})
	require.NoError(t, err)

	return sv
}

func TestNextStartsValidationFromUnmanaged(t *testing.T) {
	ctx := context.Background()
	m, store, starter := newTestMachine(t)

	sv := mustServer(t, store, "srv-1", inventory.StatusUnmanaged, inventory.TargetValidated)

	outcome, err := m.Next(ctx, sv.ID, sv.Version)
	require.NoError(t, err)
	require.Equal(t, OutcomeStarted, outcome)
	require.Contains(t, starter.validationStarted, sv.ID)

	got, err := store.ServerGetByID(ctx, sv.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusValidating, got.Status)
}

func TestNextNoopsWhenAtTarget(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	sv := mustServer(t, store, "srv-2", inventory.StatusValidated, inventory.TargetValidated)

	outcome, err := m.Next(ctx, sv.ID, sv.Version)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)

	got, err := store.ServerGetByID(ctx, sv.ID)
	require.NoError(t, err)
	require.Equal(t, "Target status ok", got.Message)
	require.Empty(t, got.LockID)
}

func TestErrorRoutesValidatingToValidatedWithErrors(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	sv := mustServer(t, store, "srv-3", inventory.StatusValidating, inventory.TargetValidated)

	err := m.Error(ctx, sv.ID, "boot failed")
	require.NoError(t, err)

	got, err := store.ServerGetByID(ctx, sv.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusValidatedWithErrors, got.Status)
	require.Empty(t, got.LockID)
	require.Equal(t, "boot failed", got.Message)
}

func TestErrorRoutesProvisioningToProvisionedWithErrors(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	sv := mustServer(t, store, "srv-4", inventory.StatusProvisioning, inventory.TargetProvisioned)

	err := m.Error(ctx, sv.ID, "ssh unreachable")
	require.NoError(t, err)

	got, err := store.ServerGetByID(ctx, sv.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusProvisionedWithErrors, got.Status)
}

func TestRackTriggerSkipsLockedServer(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	sv := mustServer(t, store, "srv-5", inventory.StatusUnmanaged, inventory.TargetUnmanaged)

	_, err := store.ServerAcquireLock(ctx, sv.ID, "existing-task")
	require.NoError(t, err)

	target := inventory.TargetValidated

	results, err := m.RackTrigger(ctx, TriggerRequest{
		Filter:       inventory.ServerFilter{Names: []string{"srv-5"}},
		TargetStatus: &target,
		Initiator:    "operator-a",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Applied)
	require.Equal(t, "busy", results[0].Reason)
}

func TestRackTriggerSkipsProtectedAsset(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	a, err := store.AssetCreate(ctx, &inventory.Asset{Serial: "srv-6", Type: inventory.AssetTypeServer, Status: inventory.AssetStatusNew, Protected: true})
	require.NoError(t, err)

	_, err = store.ServerCreate(ctx, &inventory.Server{
		Name:         "srv-6",
		Status:       inventory.StatusUnmanaged,
		TargetStatus: inventory.TargetUnmanaged,
		AssetID:      a.ID,
	})
	require.NoError(t, err)

	target := inventory.TargetValidated

	results, err := m.RackTrigger(ctx, TriggerRequest{
		Filter:       inventory.ServerFilter{Names: []string{"srv-6"}},
		TargetStatus: &target,
		Initiator:    "operator-a",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Applied)
	require.Equal(t, "protected", results[0].Reason)
}

func TestRackTriggerRequiresClusterAndRoleForProvisionedTarget(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	sv := mustServer(t, store, "srv-7", inventory.StatusUnmanaged, inventory.TargetUnmanaged)
	_ = sv

	target := inventory.TargetProvisioned

	results, err := m.RackTrigger(ctx, TriggerRequest{
		Filter:       inventory.ServerFilter{Names: []string{"srv-7"}},
		TargetStatus: &target,
		Initiator:    "operator-a",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Applied)
	require.Equal(t, "target requires cluster and role, ignored", results[0].Reason)
}

func TestStoppableStatuses(t *testing.T) {
	require.True(t, Stoppable(inventory.StatusValidating))
	require.True(t, Stoppable(inventory.StatusProvisioning))
	require.False(t, Stoppable(inventory.StatusValidated))
	require.False(t, Stoppable(inventory.StatusUnmanaged))
}
