package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	testdb "go.racklord.io/fleet/internal/testing/db"
	"go.racklord.io/fleet/internal/ctlerrors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	sqlDB, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })

	return New(sqlDB)
}

func TestRackCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, err := s.RackCreate(ctx, &Rack{Name: "rack-1", Location: "dc1", Status: "active"})
	require.NoError(t, err)
	require.NotZero(t, r.ID)

	got, err := s.RackGetByName(ctx, "dc1", "rack-1")
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)
	require.False(t, got.Meta.Maintenance)
}

func TestRackCreateDuplicateConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.RackCreate(ctx, &Rack{Name: "rack-1", Location: "dc1"})
	require.NoError(t, err)

	_, err = s.RackCreate(ctx, &Rack{Name: "rack-1", Location: "dc1"})
	require.Error(t, err)
	require.Equal(t, "Conflict", ctlerrors.Kind(err))
}

func TestRackGetByIDNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.RackGetByID(ctx, 999)
	require.Error(t, err)
	require.True(t, errors.Is(err, ctlerrors.ErrNotFound))
}

func TestWorkerUpsertIsIdempotentByNameLocation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w1, err := s.WorkerUpsert(ctx, "worker-a", "dc1", "10.0.0.1:7000")
	require.NoError(t, err)

	w2, err := s.WorkerUpsert(ctx, "worker-a", "dc1", "10.0.0.2:7000")
	require.NoError(t, err)

	require.Equal(t, w1.ID, w2.ID)
	require.Equal(t, "10.0.0.2:7000", w2.Endpoint)
}

func mustAsset(t *testing.T, s *Store, serial string) *Asset {
	t.Helper()

	ctx := context.Background()

	a, err := s.AssetCreate(ctx, &Asset{
		Serial: serial,
		Type:   AssetTypeServer,
		Status: AssetStatusNew,
	})
	require.NoError(t, err)

	return a
}

func TestServerCreateStartsAtVersionZero(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustAsset(t, s, "SN-001")

	sv, err := s.ServerCreate(ctx, &Server{
		Name:         "srv-001",
		Status:       StatusUnmanaged,
		TargetStatus: TargetUnmanaged,
		AssetID:      a.ID,
	})
	require.NoError(t, err)
	require.Zero(t, sv.Version)
}

func TestServerCASBumpsVersionOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustAsset(t, s, "SN-002")

	sv, err := s.ServerCreate(ctx, &Server{
		Name:         "srv-002",
		Status:       StatusUnmanaged,
		TargetStatus: TargetUnmanaged,
		AssetID:      a.ID,
	})
	require.NoError(t, err)

	updated, err := s.ServerCAS(ctx, sv.ID, sv.Version, func(sv *Server) error {
		sv.Status = StatusValidating
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, sv.Version+1, updated.Version)
	require.Equal(t, StatusValidating, updated.Status)
}

func TestServerCASRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustAsset(t, s, "SN-003")

	sv, err := s.ServerCreate(ctx, &Server{
		Name:         "srv-003",
		Status:       StatusUnmanaged,
		TargetStatus: TargetUnmanaged,
		AssetID:      a.ID,
	})
	require.NoError(t, err)

	// First writer succeeds and bumps the version.
	_, err = s.ServerCAS(ctx, sv.ID, sv.Version, func(sv *Server) error {
		sv.Status = StatusValidating
		return nil
	})
	require.NoError(t, err)

	// Second writer, still holding the stale version, must fail.
	_, err = s.ServerCAS(ctx, sv.ID, sv.Version, func(sv *Server) error {
		sv.Status = StatusValidated
		return nil
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ctlerrors.ErrVersionConflict))
}

func TestServerAcquireLockRejectsDoubleLock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustAsset(t, s, "SN-004")

	sv, err := s.ServerCreate(ctx, &Server{
		Name:         "srv-004",
		Status:       StatusUnmanaged,
		TargetStatus: TargetUnmanaged,
		AssetID:      a.ID,
	})
	require.NoError(t, err)

	_, err = s.ServerAcquireLock(ctx, sv.ID, "worker-a:task-1")
	require.NoError(t, err)

	_, err = s.ServerAcquireLock(ctx, sv.ID, "worker-a:task-2")
	require.Error(t, err)
	require.True(t, errors.Is(err, ctlerrors.ErrConflict))
}

func TestPortDeleteForSerialKeepsIgnoredSubnet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sn1, err := s.SubnetCreate(ctx, &Subnet{Location: "dc1", IP: "10.0.1.0", Mask: 24, VLAN: 10})
	require.NoError(t, err)

	sn2, err := s.SubnetCreate(ctx, &Subnet{Location: "dc1", IP: "10.0.2.0", Mask: 24, VLAN: 20})
	require.NoError(t, err)

	_, err = s.PortCreate(ctx, &Port{RackName: "rack-1", DeviceID: "SN-005", VLANTag: 10, IP: "10.0.1.5", SubnetID: sn1.ID})
	require.NoError(t, err)

	_, err = s.PortCreate(ctx, &Port{RackName: "rack-1", DeviceID: "SN-005", VLANTag: 20, IP: "10.0.2.5", SubnetID: sn2.ID})
	require.NoError(t, err)

	err = s.PortDeleteForSerial(ctx, "SN-005", &sn2.ID)
	require.NoError(t, err)

	remaining, err := s.PortListBySerial(ctx, "SN-005")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, sn2.ID, remaining[0].SubnetID)
}

func TestSubnetFindByContainingIP(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SubnetCreate(ctx, &Subnet{Location: "dc1", IP: "10.0.1.0", Mask: 24, VLAN: 10})
	require.NoError(t, err)

	found, err := s.SubnetFindByContainingIP(ctx, "10.0.1.42")
	require.NoError(t, err)
	require.Equal(t, 24, found.Mask)

	_, err = s.SubnetFindByContainingIP(ctx, "10.0.9.42")
	require.Error(t, err)
	require.True(t, errors.Is(err, ctlerrors.ErrNotFound))
}

func TestSKUMatchByExactStrings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sku (created_at, updated_at, name, cpu, ram, storage) VALUES ($1,$1,$2,$3,$4,$5)`,
		now(), "standard-1", "2xIntelXeon", "256GB", "4x2TBNVMe")
	require.NoError(t, err)

	sku, err := s.SKUMatch(ctx, "2xIntelXeon", "256GB", "4x2TBNVMe")
	require.NoError(t, err)
	require.Equal(t, "standard-1", sku.Name)

	_, err = s.SKUMatch(ctx, "2xIntelXeon", "512GB", "4x2TBNVMe")
	require.Error(t, err)
}

func TestRecordChangeAppendsAuditRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.RecordChange(ctx, "server", 1, map[string]string{"status": "Unmanaged"}, map[string]string{"status": "Validating"})
	require.NoError(t, err)

	var count int
	err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM change_log WHERE object_id = 1`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
