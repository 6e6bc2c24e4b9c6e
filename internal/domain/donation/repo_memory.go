package donation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

type donationRepoMemory struct {
	mu        sync.RWMutex
	donations map[uuid.UUID]Donation
}

func NewDonationRepoMemory() DonationRepository {
	return &donationRepoMemory{donations: make(map[uuid.UUID]Donation)}
}

func (m *donationRepoMemory) Create(_ context.Context, d *Donation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	m.donations[d.ID] = *d
	return nil
}

func (m *donationRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.donations[id]
	if !ok {
		return nil, blood.NotFound("donation", id)
	}
	return &d, nil
}

func (m *donationRepoMemory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.donations[id]; !ok {
		return blood.NotFound("donation", id)
	}
	delete(m.donations, id)
	return nil
}

func (m *donationRepoMemory) Search(_ context.Context, f Filter, limit, offset int) ([]*Donation, int, error) {
	m.mu.RLock()
	var matched []*Donation
	for _, d := range m.donations {
		if f.DonorID != nil && d.DonorID != *f.DonorID {
			continue
		}
		if f.CenterID != nil && d.CenterID != *f.CenterID {
			continue
		}
		d := d
		matched = append(matched, &d)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].DonatedAt.After(matched[j].DonatedAt) })
	total := len(matched)
	if offset >= total {
		return []*Donation{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
