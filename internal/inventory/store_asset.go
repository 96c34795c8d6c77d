package inventory

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const assetColumns = `id, created_at, updated_at, deleted_at, deleted, key,
	serial, brand, model, ipmi_mac, ipmi_ip, type, status, protected, rack_id`

func (s *Store) AssetCreate(ctx context.Context, a *Asset) (*Asset, error) {
	t := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO asset (created_at, updated_at, serial, brand, model, ipmi_mac, ipmi_ip,
			type, status, protected, rack_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t, t, a.Serial, a.Brand, a.Model, a.IPMIMAC, a.IPMIIP, a.Type, a.Status,
		boolToInt(a.Protected), a.RackID)
	if err != nil {
		return nil, fmt.Errorf("create asset %s: %w", a.Serial, asConflict(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.AssetGetByID(ctx, id)
}

func assetFromRow(row scanner) (*Asset, error) {
	var (
		a         Asset
		deletedAt sql.NullTime
		protected int
		rackID    sql.NullInt64
	)

	err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt, &deletedAt, &a.Deleted, &a.Key,
		&a.Serial, &a.Brand, &a.Model, &a.IPMIMAC, &a.IPMIIP, &a.Type, &a.Status,
		&protected, &rackID)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		a.DeletedAt = &deletedAt.Time
	}

	if rackID.Valid {
		a.RackID = &rackID.Int64
	}

	a.Protected = protected != 0

	return &a, nil
}

func (s *Store) AssetGetByID(ctx context.Context, id int64) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM asset WHERE id = $1 AND deleted = 0`, id)

	a, err := assetFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "asset id=%d", id)
	}

	return a, nil
}

func (s *Store) AssetGetBySerial(ctx context.Context, serial string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM asset WHERE serial = $1 AND deleted = 0`, serial)

	a, err := assetFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "asset serial=%s", serial)
	}

	return a, nil
}

// AssetUpdate persists brand/model/ipmi_mac/ipmi_ip/status/protected/rack_id
// changes. Asset carries no version column in the source schema — only
// Server needs optimistic concurrency, since only Server is mutated
// concurrently by worker tasks racing on lock_id.
func (s *Store) AssetUpdate(ctx context.Context, a *Asset) (*Asset, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE asset SET updated_at = $1, brand = $2, model = $3, ipmi_mac = $4, ipmi_ip = $5,
			status = $6, protected = $7, rack_id = $8
		WHERE id = $9 AND deleted = 0`,
		now(), a.Brand, a.Model, a.IPMIMAC, a.IPMIIP, a.Status, boolToInt(a.Protected), a.RackID, a.ID)
	if err != nil {
		return nil, fmt.Errorf("update asset id=%d: %w", a.ID, err)
	}

	return s.AssetGetByID(ctx, a.ID)
}

func (s *Store) AssetList(ctx context.Context, f AssetFilter) ([]*Asset, error) {
	b := s.builder.Select(assetColsNoDollar()...).From("asset a").Where(sq.Eq{"a.deleted": 0})

	if f.Location != "" || f.RackName != "" {
		b = b.Join("rack r ON r.id = a.rack_id")
	}

	if f.Location != "" {
		b = b.Where(sq.Eq{"r.location": f.Location})
	}

	if f.RackName != "" {
		b = b.Where(sq.Eq{"r.name": f.RackName})
	}

	if len(f.Serials) > 0 {
		b = b.Where(sq.Eq{"a.serial": f.Serials})
	}

	if f.Type != "" {
		b = b.Where(sq.Eq{"a.type": f.Type})
	}

	if f.Protected != nil {
		b = b.Where(sq.Eq{"a.protected": boolToInt(*f.Protected)})
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

	var out []*Asset

	for rows.Next() {
		a, err := assetFromRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, a)
	}

	return out, rows.Err()
}

func assetColsNoDollar() []string {
	return []string{"a.id", "a.created_at", "a.updated_at", "a.deleted_at", "a.deleted", "a.key",
		"a.serial", "a.brand", "a.model", "a.ipmi_mac", "a.ipmi_ip", "a.type", "a.status",
		"a.protected", "a.rack_id"}
}
