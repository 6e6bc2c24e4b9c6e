// Package matching finds stock for a blood request across centers. It never
// mutates inventory; reserving a plan is left to the caller.
package matching

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/domain/center"
	"github.com/bloodbank/bloodbank/internal/domain/inventory"
	"github.com/bloodbank/bloodbank/pkg/geo"
)

// UnitSource yields usable units ordered by expiry, soonest first.
type UnitSource interface {
	AvailableUnits(ctx context.Context, q inventory.AvailabilityQuery) ([]*inventory.BloodUnit, error)
}

type Criteria struct {
	BloodGroup    blood.Group
	ComponentType blood.Component // empty matches any component
	MinQuantity   int
	Origin        *geo.Point
	MaxDistanceKm float64 // ignored without an origin; 0 means unlimited
	VerifiedOnly  bool
	City          string
	// AllowPartial keeps centers that hold fewer than MinQuantity units, so a
	// request can be spread across several centers.
	AllowPartial bool
	// IncludeCompatible widens the search to every donor group compatible
	// with BloodGroup. Units of the exact group still rank first.
	IncludeCompatible bool
}

// CenterAllocation is one center's usable stock for a request.
type CenterAllocation struct {
	Center         *center.Center         `json:"center"`
	DistanceKm     *float64               `json:"distance_km,omitempty"`
	TotalAvailable int                    `json:"total_available"`
	Units          []*inventory.BloodUnit `json:"units"`
}

type Engine struct {
	units   UnitSource
	centers center.Directory
	now     func() time.Time
}

func NewEngine(units UnitSource, centers center.Directory) *Engine {
	return &Engine{units: units, centers: centers, now: time.Now}
}

func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// FindCandidates returns the centers able to serve c, the best stocked first.
func (e *Engine) FindCandidates(ctx context.Context, c Criteria) ([]CenterAllocation, error) {
	if !c.BloodGroup.Valid() {
		return nil, blood.Invalid("blood_group", "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
	}
	if c.ComponentType != "" && !c.ComponentType.Valid() {
		return nil, blood.Invalid("component_type", "is not a known component")
	}
	if c.MinQuantity < 1 {
		c.MinQuantity = 1
	}
	if c.Origin != nil && !c.Origin.Valid() {
		return nil, blood.Invalid("origin", "is not a valid coordinate")
	}
	if c.MaxDistanceKm < 0 {
		return nil, blood.Invalid("max_distance", "must not be negative")
	}

	centers, err := e.centers.List(ctx, center.Filter{City: c.City, VerifiedOnly: c.VerifiedOnly})
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*CenterAllocation, len(centers))
	ids := make([]uuid.UUID, 0, len(centers))
	for _, ctr := range centers {
		alloc := &CenterAllocation{Center: ctr, Units: []*inventory.BloodUnit{}}
		if c.Origin != nil {
			d := geo.DistanceKm(*c.Origin, ctr.Location())
			if c.MaxDistanceKm > 0 && d > c.MaxDistanceKm {
				continue
			}
			alloc.DistanceKm = &d
		}
		byID[ctr.ID] = alloc
		ids = append(ids, ctr.ID)
	}
	if len(ids) == 0 {
		return []CenterAllocation{}, nil
	}

	groups := []blood.Group{c.BloodGroup}
	if c.IncludeCompatible {
		groups = blood.CompatibleDonors(c.BloodGroup, c.ComponentType)
	}
	units, err := e.units.AvailableUnits(ctx, inventory.AvailabilityQuery{
		CenterIDs:     ids,
		Groups:        groups,
		ComponentType: c.ComponentType,
		Now:           e.now(),
	})
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		alloc, ok := byID[u.CenterID]
		if !ok {
			continue
		}
		alloc.Units = append(alloc.Units, u)
		alloc.TotalAvailable += u.Available
	}

	out := make([]CenterAllocation, 0, len(byID))
	for _, id := range ids {
		alloc := byID[id]
		if alloc.TotalAvailable == 0 {
			continue
		}
		if alloc.TotalAvailable < c.MinQuantity && !c.AllowPartial {
			continue
		}
		sortUnits(alloc.Units, c.BloodGroup)
		out = append(out, *alloc)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalAvailable != out[j].TotalAvailable {
			return out[i].TotalAvailable > out[j].TotalAvailable
		}
		if out[i].DistanceKm != nil && out[j].DistanceKm != nil && *out[i].DistanceKm != *out[j].DistanceKm {
			return *out[i].DistanceKm < *out[j].DistanceKm
		}
		return out[i].Center.Name < out[j].Center.Name
	})
	return out, nil
}

// sortUnits orders units of the exact group before substitutes, then by
// expiry so the oldest safe unit is issued first.
func sortUnits(units []*inventory.BloodUnit, exact blood.Group) {
	sort.SliceStable(units, func(i, j int) bool {
		ei, ej := units[i].BloodGroup == exact, units[j].BloodGroup == exact
		if ei != ej {
			return ei
		}
		return units[i].ExpiresAt.Before(units[j].ExpiresAt)
	})
}

// Pick is one reservation the caller should make.
type Pick struct {
	UnitID     uuid.UUID   `json:"unit_id"`
	CenterID   uuid.UUID   `json:"center_id"`
	BloodGroup blood.Group `json:"blood_group"`
	Quantity   int         `json:"quantity"`
}

// PlanAllocation walks the candidates in order and picks units until quantity
// is covered. shortfall is what the candidates could not cover.
func PlanAllocation(candidates []CenterAllocation, quantity int) (picks []Pick, shortfall int) {
	remaining := quantity
	for _, alloc := range candidates {
		for _, u := range alloc.Units {
			if remaining == 0 {
				return picks, 0
			}
			n := u.Available
			if n > remaining {
				n = remaining
			}
			if n <= 0 {
				continue
			}
			picks = append(picks, Pick{UnitID: u.ID, CenterID: u.CenterID, BloodGroup: u.BloodGroup, Quantity: n})
			remaining -= n
		}
	}
	return picks, remaining
}
