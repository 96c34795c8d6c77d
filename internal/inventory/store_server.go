package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"go.racklord.io/fleet/internal/ctlerrors"
)

const serverColumns = `id, created_at, updated_at, deleted_at, deleted, key,
	name, status, target_status, pxe_mac, pxe_ip, role, fqdn, server_number,
	rack_unit, hdd_type, os_args, gateway_net, lock_id, initiator, message,
	meta, version, cluster_id, sku_id, asset_id`

// ServerCreate inserts a new server bound to an asset, starting at version 0.
func (s *Store) ServerCreate(ctx context.Context, sv *Server) (*Server, error) {
	metaJSON, err := json.Marshal(sv.Meta)
	if err != nil {
		return nil, err
	}

	t := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO server (created_at, updated_at, name, status, target_status, pxe_mac,
			pxe_ip, role, fqdn, server_number, rack_unit, hdd_type, os_args, gateway_net,
			lock_id, initiator, message, meta, version, cluster_id, sku_id, asset_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,0,$19,$20,$21)`,
		t, t, sv.Name, sv.Status, sv.TargetStatus, sv.PXEMac, sv.PXEIP, sv.Role, sv.FQDN,
		sv.ServerNumber, sv.RackUnit, sv.HDDType, sv.OSArgs, sv.GatewayNet, sv.LockID,
		sv.Initiator, TruncateMessage(sv.Message), string(metaJSON), sv.ClusterID, sv.SKUID, sv.AssetID)
	if err != nil {
		return nil, fmt.Errorf("create server %s: %w", sv.Name, asConflict(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.ServerGetByID(ctx, id)
}

func serverFromRow(row scanner) (*Server, error) {
	var (
		sv        Server
		metaJSON  string
		deletedAt sql.NullTime
		clusterID sql.NullInt64
		skuID     sql.NullInt64
	)

	err := row.Scan(&sv.ID, &sv.CreatedAt, &sv.UpdatedAt, &deletedAt, &sv.Deleted, &sv.Key,
		&sv.Name, &sv.Status, &sv.TargetStatus, &sv.PXEMac, &sv.PXEIP, &sv.Role, &sv.FQDN,
		&sv.ServerNumber, &sv.RackUnit, &sv.HDDType, &sv.OSArgs, &sv.GatewayNet, &sv.LockID,
		&sv.Initiator, &sv.Message, &metaJSON, &sv.Version, &clusterID, &skuID, &sv.AssetID)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		sv.DeletedAt = &deletedAt.Time
	}

	if clusterID.Valid {
		sv.ClusterID = &clusterID.Int64
	}

	if skuID.Valid {
		sv.SKUID = &skuID.Int64
	}

	if err := json.Unmarshal([]byte(metaJSON), &sv.Meta); err != nil {
		return nil, err
	}

	return &sv, nil
}

func (s *Store) ServerGetByID(ctx context.Context, id int64) (*Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM server WHERE id = $1 AND deleted = 0`, id)

	sv, err := serverFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "server id=%d", id)
	}

	return sv, nil
}

func (s *Store) ServerGetByName(ctx context.Context, name string) (*Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM server WHERE name = $1 AND deleted = 0`, name)

	sv, err := serverFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "server %s", name)
	}

	return sv, nil
}

// ServerGetByAssetID finds the server bound to an asset, if any.
func (s *Store) ServerGetByAssetID(ctx context.Context, assetID int64) (*Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM server WHERE asset_id = $1 AND deleted = 0`, assetID)

	sv, err := serverFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "server asset_id=%d", assetID)
	}

	return sv, nil
}

func (s *Store) ServerList(ctx context.Context, f ServerFilter) ([]*Server, error) {
	b := s.builder.Select(serverColsNoDollar()...).From("server sv")
	b = deletedClause(b, f.IncludeDeleted, f.OnlyDeleted)

	if f.Location != "" || f.RackName != "" {
		b = b.Join("asset a ON a.id = sv.asset_id").Join("rack r ON r.id = a.rack_id")
	}

	if f.Location != "" {
		b = b.Where(sq.Eq{"r.location": f.Location})
	}

	if f.RackName != "" {
		b = b.Where(sq.Eq{"r.name": f.RackName})
	}

	if f.ClusterName != "" {
		b = b.Join("cluster c ON c.id = sv.cluster_id").Where(sq.Eq{"c.name": f.ClusterName})
	}

	if f.SKUName != "" {
		b = b.Join("sku k ON k.id = sv.sku_id").Where(sq.Eq{"k.name": f.SKUName})
	}

	if len(f.Names) > 0 {
		b = b.Where(sq.Eq{"sv.name": f.Names})
	}

	if len(f.FromStatus) > 0 {
		b = b.Where(sq.Eq{"sv.status": f.FromStatus})
	}

	qry, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, qry, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*Server

	for rows.Next() {
		sv, err := serverFromRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, sv)
	}

	return out, rows.Err()
}

func serverColsNoDollar() []string {
	return []string{"sv.id", "sv.created_at", "sv.updated_at", "sv.deleted_at", "sv.deleted", "sv.key",
		"sv.name", "sv.status", "sv.target_status", "sv.pxe_mac", "sv.pxe_ip", "sv.role", "sv.fqdn",
		"sv.server_number", "sv.rack_unit", "sv.hdd_type", "sv.os_args", "sv.gateway_net", "sv.lock_id",
		"sv.initiator", "sv.message", "sv.meta", "sv.version", "sv.cluster_id", "sv.sku_id", "sv.asset_id"}
}

// ServerCAS applies mutate to the in-memory copy of the server at id/expectVersion
// and persists it with an UPDATE ... WHERE id = ? AND version = ?, bumping version
// by exactly one. A concurrent writer observing a stale version must
// fail rather than silently overwrite — zero rows affected maps to
// ctlerrors.ErrVersionConflict so callers can retry by re-reading.
func (s *Store) ServerCAS(ctx context.Context, id int64, expectVersion int64, mutate func(*Server) error) (*Server, error) {
	sv, err := s.ServerGetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if sv.Version != expectVersion {
		return nil, ctlerrors.VersionConflict(id)
	}

	if err := mutate(sv); err != nil {
		return nil, err
	}

	metaJSON, err := json.Marshal(sv.Meta)
	if err != nil {
		return nil, err
	}

	sv.Message = TruncateMessage(sv.Message)

	res, err := s.db.ExecContext(ctx,
		`UPDATE server SET updated_at = $1, name = $2, status = $3, target_status = $4, pxe_mac = $5,
			pxe_ip = $6, role = $7, fqdn = $8, server_number = $9, rack_unit = $10,
			hdd_type = $11, os_args = $12, gateway_net = $13, lock_id = $14, initiator = $15,
			message = $16, meta = $17, version = version + 1, cluster_id = $18, sku_id = $19
		WHERE id = $20 AND version = $21 AND deleted = 0`,
		now(), sv.Name, sv.Status, sv.TargetStatus, sv.PXEMac, sv.PXEIP, sv.Role, sv.FQDN,
		sv.ServerNumber, sv.RackUnit, sv.HDDType, sv.OSArgs, sv.GatewayNet, sv.LockID,
		sv.Initiator, sv.Message, string(metaJSON), sv.ClusterID, sv.SKUID, id, expectVersion)
	if err != nil {
		return nil, fmt.Errorf("update server id=%d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		return nil, ctlerrors.VersionConflict(id)
	}

	return s.ServerGetByID(ctx, id)
}

// ServerAcquireLock sets lock_id iff it is currently empty, CAS'd on version
// so two workers racing to claim the same server never both succeed.
func (s *Store) ServerAcquireLock(ctx context.Context, id int64, lockID string) (*Server, error) {
	sv, err := s.ServerGetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if sv.LockID != "" {
		return nil, ctlerrors.Conflict("server id=%d already locked by %s", id, sv.LockID)
	}

	return s.ServerCAS(ctx, id, sv.Version, func(sv *Server) error {
		sv.LockID = lockID
		return nil
	})
}

// ServerReleaseLock clears lock_id unconditionally of who holds it; callers
// are expected to have already verified ownership.
func (s *Store) ServerReleaseLock(ctx context.Context, id int64) (*Server, error) {
	sv, err := s.ServerGetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.ServerCAS(ctx, id, sv.Version, func(sv *Server) error {
		sv.LockID = ""
		return nil
	})
}

// ServerDelete soft-deletes a server.
func (s *Store) ServerDelete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE server SET deleted = 1, deleted_at = $1, updated_at = $1 WHERE id = $2`, now(), id)

	return err
}
