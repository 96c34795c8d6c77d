package stagestart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/provision"
	testdb "go.racklord.io/fleet/internal/testing/db"
)

type fakeBackend struct {
	registered []provision.HostRegistration
	restarted  []string
}

func (f *fakeBackend) DeleteHost(context.Context, string) error { return nil }
func (f *fakeBackend) EnsureSubnet(context.Context, *inventory.Subnet) error { return nil }
func (f *fakeBackend) RegisterHost(_ context.Context, req provision.HostRegistration) error {
	f.registered = append(f.registered, req)
	return nil
}
func (f *fakeBackend) BuildComplete(context.Context, string, string) (bool, string, error) {
	return true, "", nil
}
func (f *fakeBackend) RestartPXE(_ context.Context, serial string) error {
	f.restarted = append(f.restarted, serial)
	return nil
}
func (f *fakeBackend) OSList(context.Context, string) ([]provision.Profile, error) { return nil, nil }

type fakeDNS struct{}

func (fakeDNS) ChangeRecord(context.Context, string, string, string, int) error { return nil }
func (fakeDNS) DeleteRecord(context.Context, string, string) error              { return nil }
func (fakeDNS) VerifyPropagated(context.Context, string, string, string) error  { return nil }

type fakeOrch struct{ recreated []string }

func (f *fakeOrch) HostRecreated(_ context.Context, serial string) error {
	f.recreated = append(f.recreated, serial)
	return nil
}

func setupStarter(t *testing.T) (*Starter, *inventory.Store, *inventory.Server, *fakeBackend, *fakeOrch) {
	t.Helper()

	ctx := context.Background()

	sqlDB, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := inventory.New(sqlDB)

	nm, err := store.NetworkMapCreate(ctx, &inventory.NetworkMap{Name: "r1-map", PXENIC: "eth0"})
	require.NoError(t, err)

	rack, err := store.RackCreate(ctx, &inventory.Rack{Name: "r1", Location: "dc1"})
	require.NoError(t, err)
	require.NoError(t, store.RackSetNetworkMap(ctx, rack.ID, nm.ID))

	_, err = store.SubnetCreate(ctx, &inventory.Subnet{Location: "dc1", IP: "10.0.0.0", Mask: 24, VLAN: 100, Gateway: "10.0.0.1"})
	require.NoError(t, err)
	_, err = store.SubnetCreate(ctx, &inventory.Subnet{Location: "dc1", IP: "10.0.1.0", Mask: 24, VLAN: 200, Gateway: "10.0.1.1"})
	require.NoError(t, err)

	asset, err := store.AssetCreate(ctx, &inventory.Asset{Serial: "S1", Type: inventory.AssetTypeServer, Status: inventory.AssetStatusDiscovered, RackID: &rack.ID})
	require.NoError(t, err)

	sv, err := store.ServerCreate(ctx, &inventory.Server{
		Name: "discovery_S1", Status: inventory.StatusUnmanaged, TargetStatus: inventory.TargetValidated,
		AssetID: asset.ID, PXEIP: "10.0.0.7", GatewayNet: "production",
	})
	require.NoError(t, err)

	backend := &fakeBackend{}
	orch := &fakeOrch{}
	adapter := provision.New(backend, fakeDNS{})

	starter := New(store, adapter, orch, Config{Net2VLAN: map[string]int{"mgmt": 100, "production": 200}})

	return starter, store, sv, backend, orch
}

func TestStartValidationRegistersVerificationProfile(t *testing.T) {
	starter, _, sv, backend, _ := setupStarter(t)

	err := starter.StartValidation(context.Background(), sv)
	require.NoError(t, err)

	require.Len(t, backend.registered, 1)
	require.Equal(t, "verification", backend.registered[0].OSProfile)
	require.Equal(t, 100, backend.registered[0].PrimaryVLAN)
	require.Contains(t, backend.restarted, sv.Name)
}

func TestStartProvisioningUsesGatewayNetAndRotatesKeys(t *testing.T) {
	starter, _, sv, backend, orch := setupStarter(t)
	sv.OSArgs = "ubuntu-24.04"

	err := starter.StartProvisioning(context.Background(), sv)
	require.NoError(t, err)

	require.Len(t, backend.registered, 1)
	require.Equal(t, 200, backend.registered[0].PrimaryVLAN)
	require.Contains(t, orch.recreated, sv.Name)
}

func TestStartProvisioningFailsWithoutVLANMapping(t *testing.T) {
	starter, _, sv, _, _ := setupStarter(t)
	sv.GatewayNet = "unmapped"

	err := starter.StartProvisioning(context.Background(), sv)
	require.Error(t, err)
}
