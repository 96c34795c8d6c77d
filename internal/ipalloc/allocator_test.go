package ipalloc

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
	testdb "go.racklord.io/fleet/internal/testing/db"
)

type fakeNotifier struct {
	reloads [][]*inventory.Subnet
	err     error
}

func (f *fakeNotifier) Reload(ctx context.Context, subnets []*inventory.Subnet) error {
	f.reloads = append(f.reloads, subnets)
	return f.err
}

func newTestAllocator(t *testing.T) (*Allocator, *inventory.Store, *fakeNotifier) {
	t.Helper()

	sqlDB, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })

	store := inventory.New(sqlDB)
	notifier := &fakeNotifier{}

	return New(store, notifier, zerolog.Nop()), store, notifier
}

func TestAllocateChoosesLowestFreeAddress(t *testing.T) {
	ctx := context.Background()
	a, store, notifier := newTestAllocator(t)

	sn, err := store.SubnetCreate(ctx, &inventory.Subnet{Location: "dc1", IP: "10.0.1.0", Mask: 24, VLAN: 10})
	require.NoError(t, err)

	ip, err := a.Allocate(ctx, "rack-1", sn, "SN-001", "aa:bb:cc:dd:ee:01", "")
	require.NoError(t, err)
	require.Equal(t, "10.0.1.1", ip)

	ip2, err := a.Allocate(ctx, "rack-1", sn, "SN-002", "aa:bb:cc:dd:ee:02", "")
	require.NoError(t, err)
	require.Equal(t, "10.0.1.2", ip2)

	require.Len(t, notifier.reloads, 2)
}

func TestAllocateIsIdempotentForSameSerial(t *testing.T) {
	ctx := context.Background()
	a, store, _ := newTestAllocator(t)

	sn, err := store.SubnetCreate(ctx, &inventory.Subnet{Location: "dc1", IP: "10.0.1.0", Mask: 24, VLAN: 10})
	require.NoError(t, err)

	ip1, err := a.Allocate(ctx, "rack-1", sn, "SN-001", "aa:bb:cc:dd:ee:01", "")
	require.NoError(t, err)

	ip2, err := a.Allocate(ctx, "rack-1", sn, "SN-001", "aa:bb:cc:dd:ee:01", "")
	require.NoError(t, err)

	require.Equal(t, ip1, ip2)
}

func TestAllocateConflictsOnMismatchedRequestedIP(t *testing.T) {
	ctx := context.Background()
	a, store, _ := newTestAllocator(t)

	sn, err := store.SubnetCreate(ctx, &inventory.Subnet{Location: "dc1", IP: "10.0.1.0", Mask: 24, VLAN: 10})
	require.NoError(t, err)

	_, err = a.Allocate(ctx, "rack-1", sn, "SN-001", "aa:bb:cc:dd:ee:01", "10.0.1.5")
	require.NoError(t, err)

	_, err = a.Allocate(ctx, "rack-1", sn, "SN-001", "aa:bb:cc:dd:ee:01", "10.0.1.6")
	require.Error(t, err)
	require.Equal(t, "Conflict", ctlerrors.Kind(err))
}

func TestDeleteForSerialKeepsIgnoredSubnetAndReloadsOthers(t *testing.T) {
	ctx := context.Background()
	a, store, notifier := newTestAllocator(t)

	sn1, err := store.SubnetCreate(ctx, &inventory.Subnet{Location: "dc1", IP: "10.0.1.0", Mask: 24, VLAN: 10})
	require.NoError(t, err)

	sn2, err := store.SubnetCreate(ctx, &inventory.Subnet{Location: "dc1", IP: "10.0.2.0", Mask: 24, VLAN: 20})
	require.NoError(t, err)

	_, err = a.Allocate(ctx, "rack-1", sn1, "SN-010", "aa:bb:cc:dd:ee:10", "")
	require.NoError(t, err)

	_, err = a.Allocate(ctx, "rack-1", sn2, "SN-010", "aa:bb:cc:dd:ee:10", "")
	require.NoError(t, err)

	notifier.reloads = nil

	err = a.DeleteForSerial(ctx, "SN-010", &sn2.ID)
	require.NoError(t, err)

	remaining, err := store.PortListBySerial(ctx, "SN-010")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, sn2.ID, remaining[0].SubnetID)

	require.Len(t, notifier.reloads, 1)
	require.Len(t, notifier.reloads[0], 1)
	require.Equal(t, sn1.ID, notifier.reloads[0][0].ID)
}
