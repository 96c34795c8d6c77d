package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/ipalloc"
	testdb "go.racklord.io/fleet/internal/testing/db"
)

type fakeVendor struct {
	info    *VendorInfo
	mgmtMAC string
	err     error
}

func (f *fakeVendor) Identify(ctx context.Context, ip string) (*VendorInfo, error) {
	return f.info, f.err
}

func (f *fakeVendor) ManagementMAC(ctx context.Context, ip string) (string, error) {
	return f.mgmtMAC, nil
}

type noopNotifier struct{}

func (noopNotifier) Reload(ctx context.Context, subnets []*inventory.Subnet) error { return nil }

func newTestEngine(t *testing.T, vendor VendorDriver, cfg Config) (*Engine, *inventory.Store) {
	t.Helper()

	sqlDB, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })

	store := inventory.New(sqlDB)
	alloc := ipalloc.New(store, noopNotifier{}, zerolog.Nop())

	e, err := New(store, alloc, vendor, nil, cfg, zerolog.Nop())
	require.NoError(t, err)

	return e, store
}

func mustOwnedRack(t *testing.T, store *inventory.Store, name string) *inventory.Rack {
	t.Helper()

	ctx := context.Background()

	w, err := store.WorkerUpsert(ctx, "worker-a", "dc1", "10.0.0.1:7000")
	require.NoError(t, err)

	r, err := store.RackCreate(ctx, &inventory.Rack{Name: name, Location: "dc1"})
	require.NoError(t, err)

	require.NoError(t, store.RackSetWorker(ctx, r.ID, &w.ID))

	r, err = store.RackGetByID(ctx, r.ID)
	require.NoError(t, err)

	return r
}

func mustSwitchOnSubnet(t *testing.T, store *inventory.Store, rackID int64, subnetIP string) {
	t.Helper()

	ctx := context.Background()

	a, err := store.AssetCreate(ctx, &inventory.Asset{
		Serial: "switch-" + subnetIP,
		Type:   inventory.AssetTypeNetworkDevice,
		Status: inventory.AssetStatusDiscovered,
		RackID: &rackID,
	})
	require.NoError(t, err)

	sw, err := store.SwitchCreate(ctx, &inventory.Switch{AssetID: a.ID, Name: "tor-1"})
	require.NoError(t, err)

	_, err = store.SwitchInterfaceUpsert(ctx, &inventory.SwitchInterface{
		SwitchID: sw.ID,
		Name:     "mgmt0",
		IP:       subnetIP,
		Netmask:  "255.255.255.0",
	})
	require.NoError(t, err)
}

func TestDHCPHookCreatesAssetAndSpareServer(t *testing.T) {
	ctx := context.Background()

	vendor := &fakeVendor{
		info:    &VendorInfo{Brand: "Dell", Model: "R640", Serial: "SN-100", Chassis: "Server"},
		mgmtMAC: "aa:bb:cc:dd:ee:ff",
	}

	e, store := newTestEngine(t, vendor, Config{AutoEnrollEnabled: true})

	rack := mustOwnedRack(t, store, "rack-1")
	e.cfg.OwnedRackIDs = map[int64]bool{rack.ID: true}

	_, err := store.SubnetCreate(ctx, &inventory.Subnet{Location: "dc1", IP: "10.0.1.0", Mask: 24, VLAN: 10})
	require.NoError(t, err)

	mustSwitchOnSubnet(t, store, rack.ID, "10.0.1.1")

	err = e.DHCPHook(ctx, "10.0.1.50", "AA:BB:CC:00:00:01", false)
	require.NoError(t, err)

	asset, err := store.AssetGetBySerial(ctx, "SN-100")
	require.NoError(t, err)
	require.Equal(t, inventory.AssetTypeServer, asset.Type)

	sv, err := store.ServerGetByAssetID(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusUnmanaged, sv.Status)
	require.Equal(t, "spare", sv.Role)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", sv.PXEMac)
}

func TestDHCPHookIgnoresUnknownVendorWhenAutoEnrollOff(t *testing.T) {
	ctx := context.Background()

	vendor := &fakeVendor{info: nil}

	e, store := newTestEngine(t, vendor, Config{AutoEnrollEnabled: false})

	rack := mustOwnedRack(t, store, "rack-1")
	e.cfg.OwnedRackIDs = map[int64]bool{rack.ID: true}

	err := e.DHCPHook(ctx, "10.0.1.50", "AA:BB:CC:00:00:02", false)
	require.NoError(t, err)

	_, err = store.AssetGetBySerial(ctx, "SN-200")
	require.Error(t, err)
}

func TestDHCPHookSkipsAlreadyDiscovered(t *testing.T) {
	ctx := context.Background()

	vendor := &fakeVendor{info: &VendorInfo{Brand: "Dell", Serial: "SN-300", Chassis: "Server"}, mgmtMAC: "aa:bb:cc:dd:ee:02"}

	e, store := newTestEngine(t, vendor, Config{AutoEnrollEnabled: true})
	rack := mustOwnedRack(t, store, "rack-1")
	e.cfg.OwnedRackIDs = map[int64]bool{rack.ID: true}

	_, err := store.SubnetCreate(ctx, &inventory.Subnet{Location: "dc1", IP: "10.0.1.0", Mask: 24, VLAN: 10})
	require.NoError(t, err)

	mustSwitchOnSubnet(t, store, rack.ID, "10.0.1.1")

	require.NoError(t, e.DHCPHook(ctx, "10.0.1.60", "AA:BB:CC:00:00:03", false))

	require.True(t, e.discovered.Contains(discoveredKey(normalizeMAC("AA:BB:CC:00:00:03"), "10.0.1.60")))

	// Second call for the same (mac, ip) must short-circuit at step 1 even
	// with a vendor driver that would now error, proving the cache hit
	// bypasses identification entirely.
	vendor.info = nil
	vendor.err = errors.New("snmp unreachable")

	require.NoError(t, e.DHCPHook(ctx, "10.0.1.60", "AA:BB:CC:00:00:03", false))
}
