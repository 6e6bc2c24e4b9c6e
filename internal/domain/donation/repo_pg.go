package donation

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
}

type donationRepoPG struct{ pool *pgxpool.Pool }

func NewDonationRepoPG(pool *pgxpool.Pool) DonationRepository { return &donationRepoPG{pool: pool} }

func (r *donationRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const donationCols = `id, donor_id, center_id, donation_type, blood_group, units_collected,
	weight_kg, hemoglobin, blood_pressure, pulse, collected_by, unit_id, next_eligible_at,
	donated_at, created_at`

func scanDonation(row pgx.Row) (*Donation, error) {
	var d Donation
	err := row.Scan(&d.ID, &d.DonorID, &d.CenterID, &d.DonationType, &d.BloodGroup, &d.UnitsCollected,
		&d.WeightKg, &d.Hemoglobin, &d.BloodPressure, &d.Pulse, &d.CollectedBy, &d.UnitID,
		&d.NextEligibleAt, &d.DonatedAt, &d.CreatedAt)
	return &d, err
}

func (r *donationRepoPG) Create(ctx context.Context, d *Donation) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO donation (id, donor_id, center_id, donation_type, blood_group, units_collected,
			weight_kg, hemoglobin, blood_pressure, pulse, collected_by, unit_id, next_eligible_at,
			donated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at`,
		d.ID, d.DonorID, d.CenterID, d.DonationType, d.BloodGroup, d.UnitsCollected,
		d.WeightKg, d.Hemoglobin, d.BloodPressure, d.Pulse, d.CollectedBy, d.UnitID,
		d.NextEligibleAt, d.DonatedAt,
	).Scan(&d.CreatedAt)
}

func (r *donationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Donation, error) {
	d, err := scanDonation(r.conn(ctx).QueryRow(ctx, `SELECT `+donationCols+` FROM donation WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blood.NotFound("donation", id)
	}
	return d, err
}

func (r *donationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM donation WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return blood.NotFound("donation", id)
	}
	return nil
}

func (r *donationRepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Donation, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DonorID != nil {
		where += fmt.Sprintf(` AND donor_id = $%d`, idx)
		args = append(args, *f.DonorID)
		idx++
	}
	if f.CenterID != nil {
		where += fmt.Sprintf(` AND center_id = $%d`, idx)
		args = append(args, *f.CenterID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM donation`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + donationCols + ` FROM donation` + where +
		fmt.Sprintf(` ORDER BY donated_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
