package request

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

type requestRepoMemory struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*BloodRequest
	seq      int
}

func NewRequestRepoMemory() RequestRepository {
	return &requestRepoMemory{requests: make(map[uuid.UUID]*BloodRequest)}
}

func (m *requestRepoMemory) Create(_ context.Context, r *BloodRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.seq++
	r.Number = fmt.Sprintf("REQ%06d", m.seq)
	now := time.Now()
	r.CreatedAt, r.UpdatedAt, r.Version = now, now, 1
	if err := r.CheckInvariants(); err != nil {
		return err
	}
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *requestRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*BloodRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, blood.NotFound("blood request", id)
	}
	return r.Clone(), nil
}

func (m *requestRepoMemory) Mutate(_ context.Context, id uuid.UUID, fn MutateFunc) (*BloodRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, blood.NotFound("blood request", id)
	}
	next := r.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := next.CheckInvariants(); err != nil {
		return nil, err
	}
	next.Version = r.Version + 1
	next.UpdatedAt = time.Now()
	m.requests[id] = next
	return next.Clone(), nil
}

func (m *requestRepoMemory) all() []*BloodRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*BloodRequest, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, r.Clone())
	}
	return out
}

func (m *requestRepoMemory) Search(_ context.Context, f Filter, limit, offset int) ([]*BloodRequest, int, error) {
	var matched []*BloodRequest
	for _, r := range m.all() {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Priority != "" && r.Priority != f.Priority {
			continue
		}
		if f.BloodGroup != "" && r.BloodGroup != f.BloodGroup {
			continue
		}
		if f.City != "" && (r.City == nil || !strings.EqualFold(*r.City, f.City)) {
			continue
		}
		if f.HospitalID != nil && (r.HospitalID == nil || *r.HospitalID != *f.HospitalID) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Number > matched[j].Number })
	total := len(matched)
	if offset >= total {
		return []*BloodRequest{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *requestRepoMemory) ListEmergency(_ context.Context, now time.Time, limit int) ([]*BloodRequest, error) {
	var out []*BloodRequest
	for _, r := range m.all() {
		if r.Priority == blood.PriorityEmergency && r.Status.Open() && !r.NeededBy.Before(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NeededBy.Before(out[j].NeededBy) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *requestRepoMemory) ListOverdue(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, r := range m.all() {
		if r.Overdue(now) {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}
