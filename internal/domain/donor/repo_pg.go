package donor

import (
	"context"
	"errors"
	"fmt"

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

type donorRepoPG struct{ pool *pgxpool.Pool }

func NewDonorRepoPG(pool *pgxpool.Pool) DonorRepository { return &donorRepoPG{pool: pool} }

func (r *donorRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const donorCols = `id, name, phone, email, blood_group, date_of_birth, age, weight_kg, hemoglobin,
	available, city, last_donation_at, next_eligible_at, total_donations, total_units,
	version, created_at, updated_at`

func scanDonor(row pgx.Row) (*Donor, error) {
	var d Donor
	err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.Email, &d.BloodGroup, &d.DateOfBirth, &d.Age,
		&d.WeightKg, &d.Hemoglobin, &d.Available, &d.City, &d.LastDonationAt, &d.NextEligibleAt,
		&d.TotalDonations, &d.TotalUnits, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *donorRepoPG) Create(ctx context.Context, d *Donor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO donor (id, name, phone, email, blood_group, date_of_birth, age, weight_kg,
			hemoglobin, available, city)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING version, created_at, updated_at`,
		d.ID, d.Name, d.Phone, d.Email, d.BloodGroup, d.DateOfBirth, d.Age, d.WeightKg,
		d.Hemoglobin, d.Available, d.City,
	).Scan(&d.Version, &d.CreatedAt, &d.UpdatedAt)
}

func (r *donorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Donor, error) {
	d, err := scanDonor(r.conn(ctx).QueryRow(ctx, `SELECT `+donorCols+` FROM donor WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blood.NotFound("donor", id)
	}
	return d, err
}

func (r *donorRepoPG) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Donor, error) {
	tx, err := r.conn(ctx).Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := scanDonor(tx.QueryRow(ctx, `SELECT `+donorCols+` FROM donor WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blood.NotFound("donor", id)
	}
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE donor SET name=$2, phone=$3, email=$4, weight_kg=$5, hemoglobin=$6, available=$7,
			city=$8, last_donation_at=$9, next_eligible_at=$10, total_donations=$11,
			total_units=$12, version=version+1, updated_at=NOW()
		WHERE id = $1
		RETURNING version, updated_at`,
		d.ID, d.Name, d.Phone, d.Email, d.WeightKg, d.Hemoglobin, d.Available,
		d.City, d.LastDonationAt, d.NextEligibleAt, d.TotalDonations,
		d.TotalUnits,
	).Scan(&d.Version, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit donor %s: %w", id, err)
	}
	return d, nil
}

func (r *donorRepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Donor, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

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
	if f.Available != nil {
		where += fmt.Sprintf(` AND available = $%d`, idx)
		args = append(args, *f.Available)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM donor`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + donorCols + ` FROM donor` + where +
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
