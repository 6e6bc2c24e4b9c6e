package center

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type pgDirectory struct{ pool *pgxpool.Pool }

func NewPGDirectory(pool *pgxpool.Pool) Directory { return &pgDirectory{pool: pool} }

func (d *pgDirectory) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return d.pool
}

const centerCols = `id, name, city, state, latitude, longitude, verified`

func scanCenter(row pgx.Row) (*Center, error) {
	var c Center
	err := row.Scan(&c.ID, &c.Name, &c.City, &c.State, &c.Latitude, &c.Longitude, &c.Verified)
	return &c, err
}

func (d *pgDirectory) Get(ctx context.Context, id uuid.UUID) (*Center, error) {
	c, err := scanCenter(d.conn(ctx).QueryRow(ctx, `SELECT `+centerCols+` FROM blood_center WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blood.NotFound("center", id)
	}
	return c, err
}

func (d *pgDirectory) List(ctx context.Context, f Filter) ([]*Center, error) {
	query := `SELECT ` + centerCols + ` FROM blood_center WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.VerifiedOnly {
		query += ` AND verified`
	}
	if f.City != "" {
		query += fmt.Sprintf(` AND LOWER(city) = LOWER($%d)`, idx)
		args = append(args, f.City)
	}
	query += ` ORDER BY name`

	rows, err := d.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Center
	for rows.Next() {
		c, err := scanCenter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
