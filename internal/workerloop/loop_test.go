package workerloop

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/serverfsm"
	"go.racklord.io/fleet/internal/switchvalidate"
	testdb "go.racklord.io/fleet/internal/testing/db"
)

type fakeStarter struct{}

func (fakeStarter) StartValidation(context.Context, *inventory.Server) error   { return nil }
func (fakeStarter) StartProvisioning(context.Context, *inventory.Server) error { return nil }

type fakeSwitchClient struct{}

func (fakeSwitchClient) CheckFeatures(context.Context, *inventory.Switch) error { return nil }
func (fakeSwitchClient) CheckServicePorts(context.Context, *inventory.Switch) error { return nil }
func (fakeSwitchClient) CheckVirtualL3(context.Context, *inventory.Switch) error { return nil }
func (fakeSwitchClient) CheckVLANs(context.Context, *inventory.Switch, *inventory.NetworkMap) error {
	return nil
}
func (fakeSwitchClient) CheckLACP(context.Context, *inventory.Switch, string) error { return nil }
func (fakeSwitchClient) CheckMgmtServicePort(context.Context, *inventory.Switch, string) error {
	return nil
}
func (fakeSwitchClient) FindPortByMAC(context.Context, *inventory.Switch, string) (string, int, error) {
	return "", 0, ctlerrors.NotFound("no port")
}
func (fakeSwitchClient) Discover(context.Context, string, string) (*switchvalidate.DiscoveredSwitch, error) {
	return nil, ctlerrors.NotFound("no switch")
}

type fakeBackend struct {
	mgmtDone bool
	prodDone bool
}

func (f *fakeBackend) BuildComplete(_ context.Context, serial, iface string) (bool, string, error) {
	if iface == "mgmt" {
		return f.mgmtDone, "waiting mgmt build", nil
	}

	return f.prodDone, "Waiting build completed", nil
}

func newTestLoop(t *testing.T, backend *fakeBackend) (*Loop, *inventory.Store) {
	t.Helper()

	sqlDB, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := inventory.New(sqlDB)
	fsm := serverfsm.New(store, fakeStarter{}, zerolog.Nop())
	sv := switchvalidate.New(store, fakeSwitchClient{})

	l := New(store, fsm, sv, backend, nil, nil, nil, Config{}, zerolog.Nop(), nil)

	return l, store
}

func mustRackAndServer(t *testing.T, store *inventory.Store, status inventory.Status, lockID string) *inventory.Server {
	t.Helper()

	ctx := context.Background()

	rack, err := store.RackCreate(ctx, &inventory.Rack{Name: "r1", Location: "dc1"})
	require.NoError(t, err)

	asset, err := store.AssetCreate(ctx, &inventory.Asset{Serial: "S1", Type: inventory.AssetTypeServer, Status: inventory.AssetStatusDiscovered, RackID: &rack.ID})
	require.NoError(t, err)

	sv, err := store.ServerCreate(ctx, &inventory.Server{
		Name: "discovery_S1", Status: status, TargetStatus: inventory.TargetProvisioned,
		AssetID: asset.ID, LockID: lockID,
	})
	require.NoError(t, err)

	return sv
}

func TestCheckValidatedWaitsForMgmtBuild(t *testing.T) {
	backend := &fakeBackend{mgmtDone: false}
	l, store := newTestLoop(t, backend)
	sv := mustRackAndServer(t, store, inventory.StatusValidating, "lock-1")

	err := l.checkValidated(context.Background(), sv)
	require.ErrorIs(t, err, ctlerrors.ErrIgnore)

	got, err := store.ServerGetByID(context.Background(), sv.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusValidating, got.Status)
}

func TestCheckValidatedTransitionsOnBuildComplete(t *testing.T) {
	backend := &fakeBackend{mgmtDone: true}
	l, store := newTestLoop(t, backend)
	sv := mustRackAndServer(t, store, inventory.StatusValidating, "lock-1")

	err := l.checkValidated(context.Background(), sv)
	require.NoError(t, err)

	got, err := store.ServerGetByID(context.Background(), sv.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusProvisioning, got.Status)
}

func TestCheckProvisionedRefreshesMessageWhileBuilding(t *testing.T) {
	backend := &fakeBackend{prodDone: false}
	l, store := newTestLoop(t, backend)
	sv := mustRackAndServer(t, store, inventory.StatusProvisioning, "lock-1")

	err := l.checkProvisioned(context.Background(), sv)
	require.NoError(t, err)

	got, err := store.ServerGetByID(context.Background(), sv.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusProvisioning, got.Status)
	require.Equal(t, "Waiting build completed", got.Message)
}

func TestCheckProvisionedTransitionsOnBuildComplete(t *testing.T) {
	backend := &fakeBackend{prodDone: true}
	l, store := newTestLoop(t, backend)
	sv := mustRackAndServer(t, store, inventory.StatusProvisioning, "lock-1")

	err := l.checkProvisioned(context.Background(), sv)
	require.NoError(t, err)

	got, err := store.ServerGetByID(context.Background(), sv.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusProvisioned, got.Status)
}

func TestStopServerWithoutRunningTaskRequiresForce(t *testing.T) {
	l, store := newTestLoop(t, &fakeBackend{})
	sv := mustRackAndServer(t, store, inventory.StatusProvisioning, "lock-1")

	err := l.StopServer(context.Background(), sv.ID, "lock-1", false)
	require.Error(t, err)

	err = l.StopServer(context.Background(), sv.ID, "lock-1", true)
	require.NoError(t, err)

	got, err := store.ServerGetByID(context.Background(), sv.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusProvisionedWithErrors, got.Status)
	require.Empty(t, got.LockID)
}

func TestStopServerRejectsNonStoppableStatus(t *testing.T) {
	l, store := newTestLoop(t, &fakeBackend{})
	sv := mustRackAndServer(t, store, inventory.StatusValidated, "lock-1")

	err := l.StopServer(context.Background(), sv.ID, "lock-1", true)
	require.Error(t, err)
}

func TestStopServerRejectsLockIDMismatch(t *testing.T) {
	l, store := newTestLoop(t, &fakeBackend{})
	sv := mustRackAndServer(t, store, inventory.StatusProvisioning, "lock-1")

	err := l.StopServer(context.Background(), sv.ID, "other-lock", true)
	require.Error(t, err)
}

func TestStopServerCancelsRunningTask(t *testing.T) {
	l, store := newTestLoop(t, &fakeBackend{})
	sv := mustRackAndServer(t, store, inventory.StatusProvisioning, "lock-1")

	taskCtx, err := l.registry.Claim(context.Background(), sv.ID)
	require.NoError(t, err)

	err = l.StopServer(context.Background(), sv.ID, "lock-1", false)
	require.NoError(t, err)

	<-taskCtx.Done()
	require.ErrorIs(t, context.Cause(taskCtx), ErrStoppedByUser)
	require.True(t, l.registry.IsRunning(sv.ID)) // still registered until Release
}
