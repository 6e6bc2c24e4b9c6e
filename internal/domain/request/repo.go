package request

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MutateFunc func(r *BloodRequest) error

type RequestRepository interface {
	// Create assigns the request number.
	Create(ctx context.Context, r *BloodRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*BloodRequest, error)
	// Mutate applies fn under an exclusive lock on the request and persists
	// the result when fn and the invariant check succeed.
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*BloodRequest, error)
	Search(ctx context.Context, f Filter, limit, offset int) ([]*BloodRequest, int, error)
	// ListEmergency returns open Emergency requests due at or after now,
	// soonest deadline first.
	ListEmergency(ctx context.Context, now time.Time, limit int) ([]*BloodRequest, error)
	// ListOverdue returns Pending or Approved requests needed before now.
	ListOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}
