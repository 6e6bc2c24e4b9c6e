package center

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

// Directory is the read-only lookup of centers used by matching.
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*Center, error)
	List(ctx context.Context, f Filter) ([]*Center, error)
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// MemoryDirectory is an in-process Directory, filled with Put.
type MemoryDirectory struct {
	mu      sync.RWMutex
	centers map[uuid.UUID]Center
}

func NewMemoryDirectory(centers ...Center) *MemoryDirectory {
	d := &MemoryDirectory{centers: make(map[uuid.UUID]Center)}
	for _, c := range centers {
		d.Put(c)
	}
	return d
}

func (d *MemoryDirectory) Put(c Center) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.centers[c.ID] = c
}

func (d *MemoryDirectory) Get(_ context.Context, id uuid.UUID) (*Center, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.centers[id]
	if !ok {
		return nil, blood.NotFound("center", id)
	}
	return &c, nil
}

func (d *MemoryDirectory) List(_ context.Context, f Filter) ([]*Center, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Center, 0, len(d.centers))
	for _, c := range d.centers {
		c := c
		if f.Matches(&c) {
			out = append(out, &c)
		}
	}
	sortByName(out)
	return out, nil
}

func sortByName(cs []*Center) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
}

// ReadCenters decodes a JSON array of centers used to seed a MemoryDirectory.
// Entries without an id get a fresh one.
func ReadCenters(r io.Reader) ([]Center, error) {
	var centers []Center
	if err := json.NewDecoder(r).Decode(&centers); err != nil {
		return nil, fmt.Errorf("decode centers: %w", err)
	}
	for i := range centers {
		c := &centers[i]
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return nil, fmt.Errorf("center %d: name is required", i)
		}
		if !c.Location().Valid() {
			return nil, fmt.Errorf("center %q: coordinates out of range", c.Name)
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
	}
	return centers, nil
}

// LoadMemoryDirectory builds a MemoryDirectory from the JSON file at path.
func LoadMemoryDirectory(path string) (*MemoryDirectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open center seed file: %w", err)
	}
	defer f.Close()
	centers, err := ReadCenters(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewMemoryDirectory(centers...), nil
}
