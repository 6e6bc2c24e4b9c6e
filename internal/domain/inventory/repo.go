package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MutateFunc edits a unit in place. Returning an error aborts the change.
type MutateFunc func(u *BloodUnit) error

type UnitRepository interface {
	Create(ctx context.Context, u *BloodUnit) error
	GetByID(ctx context.Context, id uuid.UUID) (*BloodUnit, error)
	// Mutate applies fn to the current state of the unit while holding an
	// exclusive lock on it and persists the result, so concurrent callers
	// observe each other's changes in order.
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*BloodUnit, error)
	// Delete removes a unit that has no reserved quantity.
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, f UnitFilter, limit, offset int) ([]*BloodUnit, int, error)
	ListAvailable(ctx context.Context, q AvailabilityQuery) ([]*BloodUnit, error)
	// ListExpired returns ids of Available units whose expiry is at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}
