package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

type memEntry struct {
	mu   sync.Mutex
	unit *BloodUnit
}

// unitRepoMemory keeps units in process. Each unit has its own mutex so that
// mutations of different units never contend.
type unitRepoMemory struct {
	mu    sync.RWMutex
	units map[uuid.UUID]*memEntry
	now   func() time.Time
}

func NewUnitRepoMemory() UnitRepository {
	return &unitRepoMemory{units: make(map[uuid.UUID]*memEntry), now: time.Now}
}

func (r *unitRepoMemory) entry(id uuid.UUID) (*memEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.units[id]
	return e, ok
}

// snapshot copies every unit under its own lock.
func (r *unitRepoMemory) snapshot() []*BloodUnit {
	r.mu.RLock()
	entries := make([]*memEntry, 0, len(r.units))
	for _, e := range r.units {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*BloodUnit, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.unit != nil {
			out = append(out, e.unit.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

func (r *unitRepoMemory) Create(_ context.Context, u *BloodUnit) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := r.now()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Version = 1
	if err := u.CheckInvariants(); err != nil {
		return err
	}
	r.mu.Lock()
	r.units[u.ID] = &memEntry{unit: u.Clone()}
	r.mu.Unlock()
	return nil
}

func (r *unitRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*BloodUnit, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, blood.NotFound("blood unit", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unit == nil {
		return nil, blood.NotFound("blood unit", id)
	}
	return e.unit.Clone(), nil
}

func (r *unitRepoMemory) Mutate(_ context.Context, id uuid.UUID, fn MutateFunc) (*BloodUnit, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, blood.NotFound("blood unit", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unit == nil {
		return nil, blood.NotFound("blood unit", id)
	}

	next := e.unit.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := next.CheckInvariants(); err != nil {
		return nil, err
	}
	next.Version = e.unit.Version + 1
	next.UpdatedAt = r.now()
	e.unit = next
	return next.Clone(), nil
}

func (r *unitRepoMemory) Delete(_ context.Context, id uuid.UUID) error {
	e, ok := r.entry(id)
	if !ok {
		return blood.NotFound("blood unit", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unit == nil {
		return blood.NotFound("blood unit", id)
	}
	if e.unit.Reserved > 0 {
		return &blood.InvalidTransitionError{Kind: "blood unit", From: string(e.unit.Status), To: "deleted",
			Reason: "unit has reserved quantity"}
	}
	e.unit = nil
	r.mu.Lock()
	delete(r.units, id)
	r.mu.Unlock()
	return nil
}

func (r *unitRepoMemory) Search(_ context.Context, f UnitFilter, limit, offset int) ([]*BloodUnit, int, error) {
	var matched []*BloodUnit
	for _, u := range r.snapshot() {
		if f.CenterID != nil && u.CenterID != *f.CenterID {
			continue
		}
		if f.BloodGroup != "" && u.BloodGroup != f.BloodGroup {
			continue
		}
		if f.ComponentType != "" && u.ComponentType != f.ComponentType {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if offset >= total {
		return []*BloodUnit{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *unitRepoMemory) ListAvailable(_ context.Context, q AvailabilityQuery) ([]*BloodUnit, error) {
	var out []*BloodUnit
	for _, u := range r.snapshot() {
		if q.Matches(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

func (r *unitRepoMemory) ListExpired(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, u := range r.snapshot() {
		if u.Status == StatusAvailable && !u.ExpiresAt.After(now) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}
