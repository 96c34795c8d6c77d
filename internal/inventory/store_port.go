package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const portColumns = `id, created_at, updated_at, deleted_at, deleted, key,
	rack_name, device_id, vlan_tag, ip, mac, subnet_id`

// PortCreate records a DHCP lease. Ports are looked up idempotently by
// (rack_name, vlan_tag, device_id) from the allocator, grounded on the
// source's lease-reuse-before-allocate behavior.
func (s *Store) PortCreate(ctx context.Context, p *Port) (*Port, error) {
	t := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO port (created_at, updated_at, rack_name, device_id, vlan_tag, ip, mac, subnet_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t, t, p.RackName, p.DeviceID, p.VLANTag, p.IP, p.MAC, p.SubnetID)
	if err != nil {
		return nil, fmt.Errorf("create port %s: %w", p.IP, asConflict(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.PortGetByID(ctx, id)
}

func portFromRow(row scanner) (*Port, error) {
	var (
		p         Port
		deletedAt sql.NullTime
	)

	err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &deletedAt, &p.Deleted, &p.Key,
		&p.RackName, &p.DeviceID, &p.VLANTag, &p.IP, &p.MAC, &p.SubnetID)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}

	return &p, nil
}

func (s *Store) PortGetByID(ctx context.Context, id int64) (*Port, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+portColumns+` FROM port WHERE id = $1 AND deleted = 0`, id)

	p, err := portFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "port id=%d", id)
	}

	return p, nil
}

// PortGetByRackVLANSerial looks up an existing lease for (rack, vlan, serial),
// the allocator's idempotent reuse path so a re-discovered server keeps its
// previously assigned IP.
func (s *Store) PortGetByRackVLANSerial(ctx context.Context, rackName string, vlan int, serial string) (*Port, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+portColumns+` FROM port
		WHERE rack_name = $1 AND vlan_tag = $2 AND device_id = $3 AND deleted = 0`,
		rackName, vlan, serial)

	p, err := portFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "port %s/%d/%s", rackName, vlan, serial)
	}

	return p, nil
}

// PortsByRackVLAN returns every active lease on a rack's vlan, used by the
// allocator to compute which addresses in a subnet are already claimed.
func (s *Store) PortsByRackVLAN(ctx context.Context, rackName string, vlan int) ([]*Port, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+portColumns+` FROM port WHERE rack_name = $1 AND vlan_tag = $2 AND deleted = 0`,
		rackName, vlan)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*Port

	for rows.Next() {
		p, err := portFromRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

// PortListBySerial returns every active (not soft-deleted) lease held by a
// serial, across racks and VLANs, for delete_for_serial's sweep.
func (s *Store) PortListBySerial(ctx context.Context, serial string) ([]*Port, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+portColumns+` FROM port WHERE device_id = $1 AND deleted = 0`, serial)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*Port

	for rows.Next() {
		p, err := portFromRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

// PortDeleteForSerial soft-deletes every lease for serial except the one on
// ignoredNetwork (by subnet id), mirroring delete_for_serial's "keep the
// network currently in use" guard.
func (s *Store) PortDeleteForSerial(ctx context.Context, serial string, ignoredSubnetID *int64) error {
	if ignoredSubnetID == nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE port SET deleted = 1, deleted_at = $1, updated_at = $1 WHERE device_id = $2 AND deleted = 0`,
			now(), serial)

		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE port SET deleted = 1, deleted_at = $1, updated_at = $1
		WHERE device_id = $2 AND subnet_id != $3 AND deleted = 0`,
		now(), serial, *ignoredSubnetID)

	return err
}

// --- ServerInterface ----------------------------------------------------

const serverInterfaceColumns = `id, created_at, updated_at, deleted_at, deleted, key,
	server_id, name, mac, ip, netmask, gateway`

func (s *Store) ServerInterfaceUpsert(ctx context.Context, si *ServerInterface) (*ServerInterface, error) {
	t := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO server_interface (created_at, updated_at, server_id, name, mac, ip, netmask, gateway)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t, t, si.ServerID, si.Name, si.MAC, si.IP, si.Netmask, si.Gateway)
	if err != nil {
		return nil, fmt.Errorf("create server_interface %d/%s: %w", si.ServerID, si.Name, asConflict(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverInterfaceColumns+` FROM server_interface WHERE id = $1`, id)

	return serverInterfaceFromRow(row)
}

func serverInterfaceFromRow(row scanner) (*ServerInterface, error) {
	var (
		si        ServerInterface
		deletedAt sql.NullTime
	)

	err := row.Scan(&si.ID, &si.CreatedAt, &si.UpdatedAt, &deletedAt, &si.Deleted, &si.Key,
		&si.ServerID, &si.Name, &si.MAC, &si.IP, &si.Netmask, &si.Gateway)
	if err != nil {
		return nil, notFoundOr(err, "server_interface")
	}

	if deletedAt.Valid {
		si.DeletedAt = &deletedAt.Time
	}

	return &si, nil
}

func (s *Store) ServerInterfaceListByServer(ctx context.Context, serverID int64) ([]*ServerInterface, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serverInterfaceColumns+` FROM server_interface WHERE server_id = $1 AND deleted = 0`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*ServerInterface

	for rows.Next() {
		si, err := serverInterfaceFromRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, si)
	}

	return out, rows.Err()
}

// --- Switch / SwitchInterface --------------------------------------------

const switchColumns = `id, created_at, updated_at, deleted_at, deleted, key, asset_id, name`

func (s *Store) SwitchCreate(ctx context.Context, sw *Switch) (*Switch, error) {
	t := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO switch (created_at, updated_at, asset_id, name) VALUES ($1,$2,$3,$4)`,
		t, t, sw.AssetID, sw.Name)
	if err != nil {
		return nil, fmt.Errorf("create switch %s: %w", sw.Name, asConflict(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+switchColumns+` FROM switch WHERE id = $1`, id)

	return switchFromRow(row)
}

func switchFromRow(row scanner) (*Switch, error) {
	var (
		sw        Switch
		deletedAt sql.NullTime
	)

	err := row.Scan(&sw.ID, &sw.CreatedAt, &sw.UpdatedAt, &deletedAt, &sw.Deleted, &sw.Key,
		&sw.AssetID, &sw.Name)
	if err != nil {
		return nil, notFoundOr(err, "switch")
	}

	if deletedAt.Valid {
		sw.DeletedAt = &deletedAt.Time
	}

	return &sw, nil
}

func (s *Store) SwitchGetByAssetID(ctx context.Context, assetID int64) (*Switch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+switchColumns+` FROM switch WHERE asset_id = $1 AND deleted = 0`, assetID)

	return switchFromRow(row)
}

const switchInterfaceColumns = `id, created_at, updated_at, deleted_at, deleted, key,
	switch_id, name, mac, ip, netmask, gateway`

func (s *Store) SwitchInterfaceUpsert(ctx context.Context, si *SwitchInterface) (*SwitchInterface, error) {
	t := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO switch_interface (created_at, updated_at, switch_id, name, mac, ip, netmask, gateway)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t, t, si.SwitchID, si.Name, si.MAC, si.IP, si.Netmask, si.Gateway)
	if err != nil {
		return nil, fmt.Errorf("create switch_interface %d/%s: %w", si.SwitchID, si.Name, asConflict(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+switchInterfaceColumns+` FROM switch_interface WHERE id = $1`, id)

	return switchInterfaceFromRow(row)
}

func switchInterfaceFromRow(row scanner) (*SwitchInterface, error) {
	var (
		si        SwitchInterface
		deletedAt sql.NullTime
	)

	err := row.Scan(&si.ID, &si.CreatedAt, &si.UpdatedAt, &deletedAt, &si.Deleted, &si.Key,
		&si.SwitchID, &si.Name, &si.MAC, &si.IP, &si.Netmask, &si.Gateway)
	if err != nil {
		return nil, notFoundOr(err, "switch_interface")
	}

	if deletedAt.Valid {
		si.DeletedAt = &deletedAt.Time
	}

	return &si, nil
}

func (s *Store) SwitchInterfaceListBySwitch(ctx context.Context, switchID int64) ([]*SwitchInterface, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+switchInterfaceColumns+` FROM switch_interface WHERE switch_id = $1 AND deleted = 0`, switchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*SwitchInterface

	for rows.Next() {
		si, err := switchInterfaceFromRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, si)
	}

	return out, rows.Err()
}

// --- ChangeLog ------------------------------------------------------------

// RecordChange appends an audit entry. before/after are marshaled to JSON;
// pass nil for a creation (no before) or a deletion (no after).
func (s *Store) RecordChange(ctx context.Context, objectType string, objectID int64, before, after any) error {
	beforeJSON, err := marshalOrEmpty(before)
	if err != nil {
		return err
	}

	afterJSON, err := marshalOrEmpty(after)
	if err != nil {
		return err
	}

	t := now()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO change_log (created_at, updated_at, object_type, object_id, before, after)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		t, t, objectType, objectID, beforeJSON, afterJSON)

	return err
}

func marshalOrEmpty(v any) (string, error) {
	if v == nil {
		return "", nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(b), nil
}
