package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"

	"go.racklord.io/fleet/internal/ctlerrors"
)

// --- NetworkMap -----------------------------------------------------------

func (s *Store) NetworkMapCreate(ctx context.Context, nm *NetworkMap) (*NetworkMap, error) {
	portMap, err := json.Marshal(nm.MgmtPortMap)
	if err != nil {
		return nil, err
	}

	unitMap, err := json.Marshal(nm.Number2Unit)
	if err != nil {
		return nil, err
	}

	topology, err := json.Marshal(nm.Topology)
	if err != nil {
		return nil, err
	}

	t := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO network_map (created_at, updated_at, name, pxe_nic, mgmt_port_map, number2unit, topology)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t, t, nm.Name, nm.PXENIC, string(portMap), string(unitMap), string(topology))
	if err != nil {
		return nil, fmt.Errorf("create network_map %s: %w", nm.Name, asConflict(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.NetworkMapGetByID(ctx, id)
}

func (s *Store) NetworkMapGetByID(ctx context.Context, id int64) (*NetworkMap, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, name, pxe_nic,
			mgmt_port_map, number2unit, topology
		FROM network_map WHERE id = $1 AND deleted = 0`, id)

	return networkMapFromRow(row)
}

func (s *Store) NetworkMapGetByName(ctx context.Context, name string) (*NetworkMap, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, name, pxe_nic,
			mgmt_port_map, number2unit, topology
		FROM network_map WHERE name = $1 AND deleted = 0`, name)

	return networkMapFromRow(row)
}

func networkMapFromRow(row scanner) (*NetworkMap, error) {
	var (
		nm                        NetworkMap
		deletedAt                 sql.NullTime
		portMapJSON, unitMapJSON, topologyJSON string
	)

	err := row.Scan(&nm.ID, &nm.CreatedAt, &nm.UpdatedAt, &deletedAt, &nm.Deleted, &nm.Key,
		&nm.Name, &nm.PXENIC, &portMapJSON, &unitMapJSON, &topologyJSON)
	if err != nil {
		return nil, notFoundOr(err, "network_map")
	}

	if deletedAt.Valid {
		nm.DeletedAt = &deletedAt.Time
	}

	if err := json.Unmarshal([]byte(portMapJSON), &nm.MgmtPortMap); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(unitMapJSON), &nm.Number2Unit); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(topologyJSON), &nm.Topology); err != nil {
		return nil, err
	}

	return &nm, nil
}

// --- Subnet ----------------------------------------------------------

func (s *Store) SubnetCreate(ctx context.Context, sn *Subnet) (*Subnet, error) {
	t := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subnet (created_at, updated_at, location, ip, mask, vlan, gateway, tagged, first_ip)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t, t, sn.Location, sn.IP, sn.Mask, sn.VLAN, sn.Gateway, boolToInt(sn.Tagged), sn.FirstIP)
	if err != nil {
		return nil, fmt.Errorf("create subnet %s/%d: %w", sn.IP, sn.VLAN, asConflict(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.SubnetGetByID(ctx, id)
}

func (s *Store) SubnetGetByID(ctx context.Context, id int64) (*Subnet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, location, ip, mask,
			vlan, gateway, tagged, first_ip
		FROM subnet WHERE id = $1 AND deleted = 0`, id)

	return subnetFromRow(row)
}

// SubnetListByLocation returns every subnet registered for a location, used
// by C2's ensure_subnets to resync which subnets the DHCP plane serves.
func (s *Store) SubnetListByLocation(ctx context.Context, location string) ([]*Subnet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, location, ip, mask,
			vlan, gateway, tagged, first_ip
		FROM subnet WHERE location = $1 AND deleted = 0`, location)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*Subnet

	for rows.Next() {
		sn, err := subnetFromRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, sn)
	}

	return out, rows.Err()
}

// SubnetFindByContainingIP finds the subnet whose network contains ip, used
// by discovery step 6 to resolve a subnet from an IPMI IP.
func (s *Store) SubnetFindByContainingIP(ctx context.Context, ip string) (*Subnet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, location, ip, mask,
			vlan, gateway, tagged, first_ip
		FROM subnet WHERE deleted = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var subnets []*Subnet

	for rows.Next() {
		sn, err := subnetFromRow(rows)
		if err != nil {
			return nil, err
		}

		subnets = append(subnets, sn)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sn := range subnets {
		if subnetContains(sn, ip) {
			return sn, nil
		}
	}

	return nil, ctlerrors.NotFound("subnet containing %s", ip)
}

// subnetContains reports whether ip falls within sn's network.
func subnetContains(sn *Subnet, ip string) bool {
	_, network, err := net.ParseCIDR(fmt.Sprintf("%s/%d", sn.IP, sn.Mask))
	if err != nil {
		return false
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	return network.Contains(parsed)
}

func subnetFromRow(row scanner) (*Subnet, error) {
	var (
		sn        Subnet
		deletedAt sql.NullTime
		tagged    int
	)

	err := row.Scan(&sn.ID, &sn.CreatedAt, &sn.UpdatedAt, &deletedAt, &sn.Deleted, &sn.Key,
		&sn.Location, &sn.IP, &sn.Mask, &sn.VLAN, &sn.Gateway, &tagged, &sn.FirstIP)
	if err != nil {
		return nil, notFoundOr(err, "subnet")
	}

	if deletedAt.Valid {
		sn.DeletedAt = &deletedAt.Time
	}

	sn.Tagged = tagged != 0

	return &sn, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// --- Cluster / SKU ----------------------------------------------------

func (s *Store) ClusterGetByName(ctx context.Context, location, name string) (*Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, name, type, location
		FROM cluster WHERE name = $1 AND location = $2 AND deleted = 0`, name, location)

	var (
		c         Cluster
		deletedAt sql.NullTime
	)

	err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &deletedAt, &c.Deleted, &c.Key,
		&c.Name, &c.Type, &c.Location)
	if err != nil {
		return nil, notFoundOr(err, "cluster %s/%s", location, name)
	}

	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}

	return &c, nil
}

func (s *Store) ClusterCreate(ctx context.Context, c *Cluster) (*Cluster, error) {
	t := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cluster (created_at, updated_at, name, type, location) VALUES ($1,$2,$3,$4,$5)`,
		t, t, c.Name, c.Type, c.Location)
	if err != nil {
		return nil, fmt.Errorf("create cluster %s: %w", c.Name, asConflict(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.ClusterGetByID(ctx, id)
}

func (s *Store) ClusterGetByID(ctx context.Context, id int64) (*Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, name, type, location
		FROM cluster WHERE id = $1 AND deleted = 0`, id)

	var (
		c         Cluster
		deletedAt sql.NullTime
	)

	err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &deletedAt, &c.Deleted, &c.Key,
		&c.Name, &c.Type, &c.Location)
	if err != nil {
		return nil, notFoundOr(err, "cluster id=%d", id)
	}

	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}

	return &c, nil
}

func (s *Store) SKUGetAll(ctx context.Context) ([]*SKU, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, name, cpu, ram, storage
		FROM sku WHERE deleted = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*SKU

	for rows.Next() {
		var (
			sku       SKU
			deletedAt sql.NullTime
		)

		if err := rows.Scan(&sku.ID, &sku.CreatedAt, &sku.UpdatedAt, &deletedAt, &sku.Deleted,
			&sku.Key, &sku.Name, &sku.CPU, &sku.RAM, &sku.Storage); err != nil {
			return nil, err
		}

		if deletedAt.Valid {
			sku.DeletedAt = &deletedAt.Time
		}

		out = append(out, &sku)
	}

	return out, rows.Err()
}

// SKUMatch finds the SKU matching cpu/ram/storage by exact string equality.
func (s *Store) SKUMatch(ctx context.Context, cpu, ram, storage string) (*SKU, error) {
	skus, err := s.SKUGetAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, sku := range skus {
		if sku.CPU == cpu && sku.RAM == ram && sku.Storage == storage {
			return sku, nil
		}
	}

	return nil, ctlerrors.NotFound("SKU not found for cpu=%s ram=%s storage=%s", cpu, ram, storage)
}
