package donor

import (
	"context"

	"github.com/google/uuid"
)

type MutateFunc func(d *Donor) error

type DonorRepository interface {
	Create(ctx context.Context, d *Donor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Donor, error)
	// Mutate applies fn under an exclusive lock on the donor row.
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Donor, error)
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Donor, int, error)
}
