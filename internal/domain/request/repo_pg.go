package request

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

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository { return &requestRepoPG{pool: pool} }

func (r *requestRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const requestCols = `id, request_number, patient_name, patient_age, patient_gender, hospital_name,
	hospital_id, city, contact_phone, reason, blood_group, component_type, required_units,
	fulfilled_units, priority, needed_by, status, status_history, donors, allocations,
	requested_by, version, created_at, updated_at, completed_at`

func scanRequest(row pgx.Row) (*BloodRequest, error) {
	var br BloodRequest
	err := row.Scan(&br.ID, &br.Number, &br.PatientName, &br.PatientAge, &br.PatientGender, &br.HospitalName,
		&br.HospitalID, &br.City, &br.ContactPhone, &br.Reason, &br.BloodGroup, &br.ComponentType, &br.RequiredUnits,
		&br.FulfilledUnits, &br.Priority, &br.NeededBy, &br.Status, &br.History, &br.Donors, &br.Allocations,
		&br.RequestedBy, &br.Version, &br.CreatedAt, &br.UpdatedAt, &br.CompletedAt)
	return &br, err
}

func normalize(br *BloodRequest) {
	if br.History == nil {
		br.History = []StatusChange{}
	}
	if br.Donors == nil {
		br.Donors = []DonorRecord{}
	}
	if br.Allocations == nil {
		br.Allocations = []Allocation{}
	}
}

func (r *requestRepoPG) Create(ctx context.Context, br *BloodRequest) error {
	if br.ID == uuid.Nil {
		br.ID = uuid.New()
	}
	if err := br.CheckInvariants(); err != nil {
		return err
	}
	normalize(br)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO blood_request (id, request_number, patient_name, patient_age, patient_gender,
			hospital_name, hospital_id, city, contact_phone, reason, blood_group, component_type,
			required_units, fulfilled_units, priority, needed_by, status, status_history, donors,
			allocations, requested_by)
		VALUES ($1, 'REQ' || LPAD(nextval('blood_request_number_seq')::text, 6, '0'),
			$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING request_number, version, created_at, updated_at`,
		br.ID, br.PatientName, br.PatientAge, br.PatientGender,
		br.HospitalName, br.HospitalID, br.City, br.ContactPhone, br.Reason, br.BloodGroup, br.ComponentType,
		br.RequiredUnits, br.FulfilledUnits, br.Priority, br.NeededBy, br.Status, br.History, br.Donors,
		br.Allocations, br.RequestedBy,
	).Scan(&br.Number, &br.Version, &br.CreatedAt, &br.UpdatedAt)
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BloodRequest, error) {
	br, err := scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM blood_request WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blood.NotFound("blood request", id)
	}
	return br, err
}

func (r *requestRepoPG) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*BloodRequest, error) {
	tx, err := r.conn(ctx).Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	br, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestCols+` FROM blood_request WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blood.NotFound("blood request", id)
	}
	if err != nil {
		return nil, err
	}
	if err := fn(br); err != nil {
		return nil, err
	}
	if err := br.CheckInvariants(); err != nil {
		return nil, err
	}
	normalize(br)

	err = tx.QueryRow(ctx, `
		UPDATE blood_request SET fulfilled_units=$2, status=$3, status_history=$4, donors=$5,
			allocations=$6, completed_at=$7, version=version+1, updated_at=NOW()
		WHERE id = $1
		RETURNING version, updated_at`,
		br.ID, br.FulfilledUnits, br.Status, br.History, br.Donors,
		br.Allocations, br.CompletedAt,
	).Scan(&br.Version, &br.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit request %s: %w", id, err)
	}
	return br, nil
}

func (r *requestRepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*BloodRequest, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Priority != "" {
		where += fmt.Sprintf(` AND priority = $%d`, idx)
		args = append(args, f.Priority)
		idx++
	}
	if f.BloodGroup != "" {
		where += fmt.Sprintf(` AND blood_group = $%d`, idx)
		args = append(args, f.BloodGroup)
		idx++
	}
	if f.City != "" {
		where += fmt.Sprintf(` AND LOWER(city) = LOWER($%d)`, idx)
		args = append(args, f.City)
		idx++
	}
	if f.HospitalID != nil {
		where += fmt.Sprintf(` AND hospital_id = $%d`, idx)
		args = append(args, *f.HospitalID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM blood_request`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + requestCols + ` FROM blood_request` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	items, err := r.collect(ctx, query, args...)
	return items, total, err
}

func (r *requestRepoPG) ListEmergency(ctx context.Context, now time.Time, limit int) ([]*BloodRequest, error) {
	return r.collect(ctx, `SELECT `+requestCols+` FROM blood_request
		WHERE priority = 'Emergency' AND status IN ('Pending', 'Approved', 'Processing') AND needed_by >= $1
		ORDER BY needed_by ASC LIMIT $2`, now, limit)
}

func (r *requestRepoPG) ListOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id FROM blood_request WHERE status IN ('Pending', 'Approved') AND needed_by < $1`, now)
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

func (r *requestRepoPG) collect(ctx context.Context, query string, args ...interface{}) ([]*BloodRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BloodRequest
	for rows.Next() {
		br, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, br)
	}
	return items, rows.Err()
}
