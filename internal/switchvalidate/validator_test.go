package switchvalidate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"go.racklord.io/fleet/internal/inventory"
	testdb "go.racklord.io/fleet/internal/testing/db"
)

type fakeSwitchClient struct {
	featuresErr error
	portOf      map[string]struct {
		name string
		port int
	}
}

func (f *fakeSwitchClient) CheckFeatures(ctx context.Context, sw *inventory.Switch) error {
	return f.featuresErr
}
func (f *fakeSwitchClient) CheckServicePorts(ctx context.Context, sw *inventory.Switch) error { return nil }
func (f *fakeSwitchClient) CheckVirtualL3(ctx context.Context, sw *inventory.Switch) error    { return nil }
func (f *fakeSwitchClient) CheckVLANs(ctx context.Context, sw *inventory.Switch, nm *inventory.NetworkMap) error {
	return nil
}
func (f *fakeSwitchClient) CheckLACP(ctx context.Context, sw *inventory.Switch, mac string) error {
	return nil
}
func (f *fakeSwitchClient) CheckMgmtServicePort(ctx context.Context, sw *inventory.Switch, mac string) error {
	return nil
}

func (f *fakeSwitchClient) FindPortByMAC(ctx context.Context, sw *inventory.Switch, mac string) (string, int, error) {
	if e, ok := f.portOf[mac]; ok {
		return e.name, e.port, nil
	}

	return "", 0, errors.New("not found")
}

func (f *fakeSwitchClient) Discover(ctx context.Context, hostname, ip string) (*DiscoveredSwitch, error) {
	return &DiscoveredSwitch{Brand: "Arista", Serial: "SW-1", RackName: "rack-1"}, nil
}

func newTestValidator(t *testing.T) (*Validator, *inventory.Store) {
	t.Helper()

	sqlDB, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })

	store := inventory.New(sqlDB)
	client := &fakeSwitchClient{portOf: map[string]struct {
		name string
		port int
	}{
		"aa:bb:cc:dd:ee:01": {name: "tor-2", port: 5},
	}}

	return New(store, client), store
}

func TestValidateForRackCachesValidatedResult(t *testing.T) {
	ctx := context.Background()
	v, store := newTestValidator(t)

	rack, err := store.RackCreate(ctx, &inventory.Rack{Name: "rack-1", Location: "dc1"})
	require.NoError(t, err)

	status, _, err := v.ValidateForRack(ctx, rack)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusValidated, status)

	status2, msg2, err := v.ValidateForRack(ctx, rack)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusValidated, status2)
	require.Equal(t, "cached", msg2)
}

func TestServerNumberGetResolvesViaPortMap(t *testing.T) {
	ctx := context.Background()
	v, store := newTestValidator(t)

	rack, err := store.RackCreate(ctx, &inventory.Rack{Name: "rack-1", Location: "dc1"})
	require.NoError(t, err)

	swAsset, err := store.AssetCreate(ctx, &inventory.Asset{
		Serial: "SW-1", Type: inventory.AssetTypeNetworkDevice, Status: inventory.AssetStatusDiscovered, RackID: &rack.ID,
	})
	require.NoError(t, err)

	_, err = store.SwitchCreate(ctx, &inventory.Switch{AssetID: swAsset.ID, Name: "tor-2"})
	require.NoError(t, err)

	nm, err := store.NetworkMapCreate(ctx, &inventory.NetworkMap{
		Name:        "standard",
		MgmtPortMap: []inventory.PortMapEntry{{SwitchIndex: 2, PortNo: 5, ServerNumber: 12}},
		Number2Unit: []inventory.UnitMapEntry{{ServerNumber: 12, RackUnit: 37}},
	})
	require.NoError(t, err)

	sv := &inventory.Server{Name: "srv-1", PXEMac: "aa:bb:cc:dd:ee:01"}

	num, unit, err := v.ServerNumberGet(ctx, rack, nm, sv)
	require.NoError(t, err)
	require.Equal(t, 12, num)
	require.Equal(t, 37, unit)
}

func TestParseSwitchIndex(t *testing.T) {
	idx, err := parseSwitchIndex("tor-2")
	require.NoError(t, err)
	require.Equal(t, 2, idx)

	_, err = parseSwitchIndex("tor-")
	require.Error(t, err)
}
