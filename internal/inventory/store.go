package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"go.racklord.io/fleet/internal/ctlerrors"
)

// Store is the C1 inventory store: typed CRUD with joined reads, optimistic
// concurrency on Server, and soft-delete semantics, grounded on the raw-SQL
// / ScanRow idiom used for a local sqlite-backed deployment.
type Store struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// New wraps db. Callers are responsible for opening the *sql.DB with the
// driver of their choice (sqlite3 by default; pgx for an operator who
// outgrows a single file) and calling Migrate once at startup (tests use
// ApplySchema, its sqlite3 form).
func New(db *sql.DB) *Store {
	return &Store{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// deletedClause appends the soft-delete predicate unless the caller opted
// into IncludeDeleted/OnlyDeleted.
func deletedClause(b sq.SelectBuilder, includeDeleted, onlyDeleted bool) sq.SelectBuilder {
	switch {
	case onlyDeleted:
		return b.Where(sq.NotEq{"deleted": 0})
	case includeDeleted:
		return b
	default:
		return b.Where(sq.Eq{"deleted": 0})
	}
}

func now() time.Time { return time.Now().UTC() }

// --- Rack -------------------------------------------------------------

func (s *Store) RackCreate(ctx context.Context, r *Rack) (*Rack, error) {
	metaJSON, err := json.Marshal(r.Meta)
	if err != nil {
		return nil, err
	}

	t := now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rack (created_at, updated_at, name, location, status,
			gateway_ip, environment, sku_quota, worker_id, network_map_id, meta)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t, t, r.Name, r.Location, r.Status, r.GatewayIP, r.Environment,
		r.SKUQuota, r.WorkerID, r.NetworkMapID, string(metaJSON))
	if err != nil {
		return nil, fmt.Errorf("create rack %s: %w", r.Name, asConflict(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.RackGetByID(ctx, id)
}

func (s *Store) rackFromRow(row scanner) (*Rack, error) {
	var (
		r            Rack
		metaJSON     string
		deletedAt    sql.NullTime
		workerID     sql.NullInt64
		networkMapID sql.NullInt64
	)

	err := row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &deletedAt, &r.Deleted, &r.Key,
		&r.Name, &r.Location, &r.Status, &r.GatewayIP, &r.Environment, &r.SKUQuota,
		&workerID, &networkMapID, &metaJSON)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Time
	}

	if workerID.Valid {
		r.WorkerID = &workerID.Int64
	}

	if networkMapID.Valid {
		r.NetworkMapID = &networkMapID.Int64
	}

	if err := json.Unmarshal([]byte(metaJSON), &r.Meta); err != nil {
		return nil, err
	}

	return &r, nil
}

const rackColumns = `id, created_at, updated_at, deleted_at, deleted, key,
	name, location, status, gateway_ip, environment, sku_quota, worker_id,
	network_map_id, meta`

func (s *Store) RackGetByID(ctx context.Context, id int64) (*Rack, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rackColumns+` FROM rack WHERE id = $1 AND deleted = 0`, id)

	r, err := s.rackFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "rack id=%d", id)
	}

	return r, nil
}

func (s *Store) RackGetByName(ctx context.Context, location, name string) (*Rack, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rackColumns+` FROM rack WHERE name = $1 AND location = $2 AND deleted = 0`,
		name, location)

	r, err := s.rackFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "rack %s/%s", location, name)
	}

	return r, nil
}

func (s *Store) RackList(ctx context.Context, f RackFilter) ([]*Rack, error) {
	b := s.builder.Select(rackColsNoDollar()).From("rack").Where(sq.Eq{"deleted": 0})
	if f.Location != "" {
		b = b.Where(sq.Eq{"location": f.Location})
	}

	if f.Name != "" {
		b = b.Where(sq.Eq{"name": f.Name})
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

	var out []*Rack

	for rows.Next() {
		r, err := s.rackFromRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

func rackColsNoDollar() []string {
	return []string{"id", "created_at", "updated_at", "deleted_at", "deleted", "key",
		"name", "location", "status", "gateway_ip", "environment", "sku_quota",
		"worker_id", "network_map_id", "meta"}
}

// RackSetWorker assigns or clears (workerID == nil) the owning worker.
func (s *Store) RackSetWorker(ctx context.Context, rackID int64, workerID *int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rack SET worker_id = $1, updated_at = $2 WHERE id = $3 AND deleted = 0`,
		workerID, now(), rackID)

	return err
}

// RackSetNetworkMap sets a rack's NetworkMap. The source treats a
// NetworkMap as immutable once a production rack references it; that
// invariant is enforced by callers (serverfsm/dispatch), not here, since
// "production" is an operational judgment the store can't make.
func (s *Store) RackSetNetworkMap(ctx context.Context, rackID, networkMapID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rack SET network_map_id = $1, updated_at = $2 WHERE id = $3 AND deleted = 0`,
		networkMapID, now(), rackID)

	return err
}

// --- Worker -------------------------------------------------------------

// WorkerUpsert registers a worker, upserting by (name, location).
func (s *Store) WorkerUpsert(ctx context.Context, name, location, endpoint string) (*Worker, error) {
	t := now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO worker (created_at, updated_at, name, location, endpoint)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT(name, location) DO UPDATE SET endpoint = excluded.endpoint, updated_at = $2`,
		t, t, name, location, endpoint)
	if err != nil {
		return nil, fmt.Errorf("upsert worker %s/%s: %w", location, name, err)
	}

	return s.WorkerGetByName(ctx, location, name)
}

func (s *Store) WorkerGetByName(ctx context.Context, location, name string) (*Worker, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, name, location, endpoint
		FROM worker WHERE name = $1 AND location = $2 AND deleted = 0`, name, location)

	w, err := workerFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "worker %s/%s", location, name)
	}

	return w, nil
}

func (s *Store) WorkerGetByID(ctx context.Context, id int64) (*Worker, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, name, location, endpoint
		FROM worker WHERE id = $1 AND deleted = 0`, id)

	w, err := workerFromRow(row)
	if err != nil {
		return nil, notFoundOr(err, "worker id=%d", id)
	}

	return w, nil
}

func workerFromRow(row scanner) (*Worker, error) {
	var (
		w         Worker
		deletedAt sql.NullTime
	)

	err := row.Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt, &deletedAt, &w.Deleted, &w.Key,
		&w.Name, &w.Location, &w.Endpoint)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		w.DeletedAt = &deletedAt.Time
	}

	return &w, nil
}

func (s *Store) WorkerList(ctx context.Context, location string) ([]*Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, updated_at, deleted_at, deleted, key, name, location, endpoint
		FROM worker WHERE location = $1 AND deleted = 0`, location)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*Worker

	for rows.Next() {
		w, err := workerFromRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, w)
	}

	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func notFoundOr(err error, format string, args ...any) error {
	if err == sql.ErrNoRows {
		return ctlerrors.NotFound(format, args...)
	}

	return err
}

func asConflict(err error) error {
	if err == nil {
		return nil
	}
	// sqlite3 and pgx both surface uniqueness violations with "unique" in
	// the driver error text; wrap generically rather than type-asserting
	// on either driver's error type so the store stays driver-neutral.
	return fmt.Errorf("%w: %s", ctlerrors.ErrConflict, err.Error())
}
