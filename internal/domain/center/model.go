package center

import (
	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/pkg/geo"
)

// Center is a collection site. The inventory core only reads centers.
type Center struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	City      string    `db:"city" json:"city"`
	State     string    `db:"state" json:"state,omitempty"`
	Latitude  float64   `db:"latitude" json:"latitude"`
	Longitude float64   `db:"longitude" json:"longitude"`
	Verified  bool      `db:"verified" json:"verified"`
}

func (c *Center) Location() geo.Point {
	return geo.Point{Lat: c.Latitude, Lng: c.Longitude}
}

type Filter struct {
	City         string
	VerifiedOnly bool
}

func (f Filter) Matches(c *Center) bool {
	if f.VerifiedOnly && !c.Verified {
		return false
	}
	if f.City != "" && !equalFold(c.City, f.City) {
		return false
	}
	return true
}
