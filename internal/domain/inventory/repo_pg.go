package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type unitRepoPG struct{ pool *pgxpool.Pool }

func NewUnitRepoPG(pool *pgxpool.Pool) UnitRepository { return &unitRepoPG{pool: pool} }

func (r *unitRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const unitCols = `id, center_id, blood_group, component_type, collected_at, expires_at,
	collected, available, reserved, used, pathogen_panel, group_confirmed, status,
	holds, usage_history, donor_id, donation_id, batch_number, storage_location,
	version, created_at, updated_at`

func scanUnit(row pgx.Row) (*BloodUnit, error) {
	var u BloodUnit
	err := row.Scan(&u.ID, &u.CenterID, &u.BloodGroup, &u.ComponentType, &u.CollectedAt, &u.ExpiresAt,
		&u.Collected, &u.Available, &u.Reserved, &u.Used, &u.Panel, &u.GroupConfirmed, &u.Status,
		&u.Holds, &u.Usage, &u.DonorID, &u.DonationID, &u.BatchNumber, &u.StorageLocation,
		&u.Version, &u.CreatedAt, &u.UpdatedAt)
	return &u, err
}

func (r *unitRepoPG) Create(ctx context.Context, u *BloodUnit) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if err := u.CheckInvariants(); err != nil {
		return err
	}
	normalize(u)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO blood_unit (id, center_id, blood_group, component_type, collected_at, expires_at,
			collected, available, reserved, used, pathogen_panel, group_confirmed, status,
			holds, usage_history, donor_id, donation_id, batch_number, storage_location)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING version, created_at, updated_at`,
		u.ID, u.CenterID, u.BloodGroup, u.ComponentType, u.CollectedAt, u.ExpiresAt,
		u.Collected, u.Available, u.Reserved, u.Used, u.Panel, u.GroupConfirmed, u.Status,
		u.Holds, u.Usage, u.DonorID, u.DonationID, u.BatchNumber, u.StorageLocation,
	).Scan(&u.Version, &u.CreatedAt, &u.UpdatedAt)
}

func (r *unitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BloodUnit, error) {
	u, err := scanUnit(r.conn(ctx).QueryRow(ctx, `SELECT `+unitCols+` FROM blood_unit WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blood.NotFound("blood unit", id)
	}
	return u, err
}

// Mutate locks the row with SELECT ... FOR UPDATE for the duration of fn.
func (r *unitRepoPG) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*BloodUnit, error) {
	tx, err := r.conn(ctx).Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	u, err := scanUnit(tx.QueryRow(ctx, `SELECT `+unitCols+` FROM blood_unit WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blood.NotFound("blood unit", id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(u); err != nil {
		return nil, err
	}
	if err := u.CheckInvariants(); err != nil {
		return nil, err
	}
	normalize(u)

	err = tx.QueryRow(ctx, `
		UPDATE blood_unit SET available=$2, reserved=$3, used=$4, pathogen_panel=$5,
			group_confirmed=$6, status=$7, holds=$8, usage_history=$9,
			version=version+1, updated_at=NOW()
		WHERE id = $1
		RETURNING version, updated_at`,
		u.ID, u.Available, u.Reserved, u.Used, u.Panel,
		u.GroupConfirmed, u.Status, u.Holds, u.Usage,
	).Scan(&u.Version, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit unit %s: %w", id, err)
	}
	return u, nil
}

func (r *unitRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM blood_unit WHERE id = $1 AND reserved = 0`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return &blood.InvalidTransitionError{Kind: "blood unit", From: string(u.Status), To: "deleted",
		Reason: "unit has reserved quantity"}
}

func (r *unitRepoPG) Search(ctx context.Context, f UnitFilter, limit, offset int) ([]*BloodUnit, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.CenterID != nil {
		where += fmt.Sprintf(` AND center_id = $%d`, idx)
		args = append(args, *f.CenterID)
		idx++
	}
	if f.BloodGroup != "" {
		where += fmt.Sprintf(` AND blood_group = $%d`, idx)
		args = append(args, f.BloodGroup)
		idx++
	}
	if f.ComponentType != "" {
		where += fmt.Sprintf(` AND component_type = $%d`, idx)
		args = append(args, f.ComponentType)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM blood_unit`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + unitCols + ` FROM blood_unit` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	items, err := r.collect(ctx, query, args...)
	return items, total, err
}

func (r *unitRepoPG) ListAvailable(ctx context.Context, q AvailabilityQuery) ([]*BloodUnit, error) {
	query := `SELECT ` + unitCols + ` FROM blood_unit
		WHERE status = 'Available' AND available >= 1 AND expires_at > $1`
	args := []interface{}{q.Now}
	idx := 2

	if len(q.CenterIDs) > 0 {
		query += fmt.Sprintf(` AND center_id = ANY($%d)`, idx)
		args = append(args, q.CenterIDs)
		idx++
	}
	if len(q.Groups) > 0 {
		groups := make([]string, len(q.Groups))
		for i, g := range q.Groups {
			groups[i] = string(g)
		}
		query += fmt.Sprintf(` AND blood_group = ANY($%d)`, idx)
		args = append(args, groups)
		idx++
	}
	if q.ComponentType != "" {
		query += fmt.Sprintf(` AND component_type = $%d`, idx)
		args = append(args, q.ComponentType)
		idx++
	}
	if q.ExpiresBefore != nil {
		query += fmt.Sprintf(` AND expires_at < $%d`, idx)
		args = append(args, *q.ExpiresBefore)
	}
	query += ` ORDER BY expires_at ASC`

	return r.collect(ctx, query, args...)
}

func (r *unitRepoPG) ListExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id FROM blood_unit WHERE status = 'Available' AND expires_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *unitRepoPG) collect(ctx context.Context, query string, args ...interface{}) ([]*BloodUnit, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BloodUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

func normalize(u *BloodUnit) {
	if u.Holds == nil {
		u.Holds = []Hold{}
	}
	if u.Usage == nil {
		u.Usage = []UsageEntry{}
	}
}
