package donor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

type donorRepoMemory struct {
	mu     sync.Mutex
	donors map[uuid.UUID]*Donor
}

func NewDonorRepoMemory() DonorRepository {
	return &donorRepoMemory{donors: make(map[uuid.UUID]*Donor)}
}

func (r *donorRepoMemory) Create(_ context.Context, d *Donor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt, d.Version = now, now, 1
	r.mu.Lock()
	defer r.mu.Unlock()
	r.donors[d.ID] = d.Clone()
	return nil
}

func (r *donorRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Donor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donors[id]
	if !ok {
		return nil, blood.NotFound("donor", id)
	}
	return d.Clone(), nil
}

func (r *donorRepoMemory) Mutate(_ context.Context, id uuid.UUID, fn MutateFunc) (*Donor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donors[id]
	if !ok {
		return nil, blood.NotFound("donor", id)
	}
	next := d.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = d.Version + 1
	next.UpdatedAt = time.Now()
	r.donors[id] = next
	return next.Clone(), nil
}

func (r *donorRepoMemory) Search(_ context.Context, f Filter, limit, offset int) ([]*Donor, int, error) {
	r.mu.Lock()
	var matched []*Donor
	for _, d := range r.donors {
		if f.BloodGroup != "" && d.BloodGroup != f.BloodGroup {
			continue
		}
		if f.City != "" && (d.City == nil || !strings.EqualFold(*d.City, f.City)) {
			continue
		}
		if f.Available != nil && d.Available != *f.Available {
			continue
		}
		matched = append(matched, d.Clone())
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	total := len(matched)
	if offset >= total {
		return []*Donor{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
