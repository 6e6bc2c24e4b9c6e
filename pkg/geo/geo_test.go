package geo

import (
	"math"
	"testing"
)

var (
	kollam     = Point{Lat: 8.8932, Lng: 76.6141}
	trivandrum = Point{Lat: 8.5241, Lng: 76.9366}
)

func TestDistanceKm(t *testing.T) {
	d := DistanceKm(kollam, trivandrum)
	if math.Abs(d-54.23) > 0.1 {
		t.Errorf("expected about 54.2 km, got %.2f", d)
	}
	if DistanceKm(kollam, kollam) != 0 {
		t.Error("distance to self should be 0")
	}
	if math.Abs(DistanceKm(kollam, trivandrum)-DistanceKm(trivandrum, kollam)) > 1e-9 {
		t.Error("distance should be symmetric")
	}
}

func TestWithin(t *testing.T) {
	if Within(kollam, trivandrum, 50) {
		t.Error("expected outside a 50 km radius")
	}
	if !Within(kollam, trivandrum, 60) {
		t.Error("expected inside a 60 km radius")
	}
}

func TestPointValid(t *testing.T) {
	tests := []struct {
		p    Point
		want bool
	}{
		{kollam, true},
		{Point{Lat: 91}, false},
		{Point{Lng: -181}, false},
		{Point{Lat: -90, Lng: 180}, true},
	}
	for _, tt := range tests {
		if got := tt.p.Valid(); got != tt.want {
			t.Errorf("Valid(%+v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
