package donation

import (
	"context"

	"github.com/google/uuid"
)

type DonationRepository interface {
	Create(ctx context.Context, d *Donation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Donation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// Search returns donations newest first.
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Donation, int, error)
}
