package donor

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var refNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func intPtr(i int) *int { return &i }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func timePtr(t time.Time) *time.Time { return &t }

func healthyDonor() *Donor {
	return &Donor{
		Name:       "Priya",
		BloodGroup: "O+",
		Age:        intPtr(30),
		WeightKg:   decPtr("62"),
		Hemoglobin: decPtr("13.4"),
		Available:  true,
	}
}

func TestIsEligible_Healthy(t *testing.T) {
	if !IsEligible(healthyDonor(), refNow) {
		t.Errorf("expected healthy donor to be eligible, unmet: %v", Evaluate(healthyDonor(), refNow))
	}
}

func TestIsEligible_CooldownWindow(t *testing.T) {
	tests := []struct {
		name     string
		daysAgo  int
		eligible bool
	}{
		{"91 days ago", 91, true},
		{"89 days ago", 89, false},
		{"exactly 90 days ago", 90, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := healthyDonor()
			last := refNow.AddDate(0, 0, -tt.daysAgo)
			d.LastDonationAt = &last
			d.NextEligibleAt = timePtr(ComputeNextEligible(last))
			if got := IsEligible(d, refNow); got != tt.eligible {
				t.Errorf("IsEligible = %v, want %v", got, tt.eligible)
			}
		})
	}
}

func TestEvaluate_Thresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Donor)
		want   []string
	}{
		{"unavailable", func(d *Donor) { d.Available = false }, []string{CriterionAvailability}},
		{"age 17", func(d *Donor) { d.Age = intPtr(17) }, []string{CriterionAge}},
		{"age 18", func(d *Donor) { d.Age = intPtr(18) }, nil},
		{"age 65", func(d *Donor) { d.Age = intPtr(65) }, nil},
		{"age 66", func(d *Donor) { d.Age = intPtr(66) }, []string{CriterionAge}},
		{"no age", func(d *Donor) { d.Age = nil }, []string{CriterionAge}},
		{"weight 39.9", func(d *Donor) { d.WeightKg = decPtr("39.9") }, []string{CriterionWeight}},
		{"weight 40", func(d *Donor) { d.WeightKg = decPtr("40") }, nil},
		{"weight unset", func(d *Donor) { d.WeightKg = nil }, nil},
		{"hemoglobin 12.4", func(d *Donor) { d.Hemoglobin = decPtr("12.4") }, []string{CriterionHemoglobin}},
		{"hemoglobin 12.5", func(d *Donor) { d.Hemoglobin = decPtr("12.5") }, nil},
		{"hemoglobin unset", func(d *Donor) { d.Hemoglobin = nil }, nil},
		{"several", func(d *Donor) {
			d.Available = false
			d.WeightKg = decPtr("35")
			d.NextEligibleAt = timePtr(refNow.Add(time.Hour))
		}, []string{CriterionAvailability, CriterionWeight, CriterionCooldown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := healthyDonor()
			tt.mutate(d)
			if got := Evaluate(d, refNow); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAgeAt_PrefersDateOfBirth(t *testing.T) {
	d := healthyDonor()
	d.Age = intPtr(40)
	d.DateOfBirth = timePtr(time.Date(2008, 3, 2, 0, 0, 0, 0, time.UTC))

	age, ok := AgeAt(d, refNow)
	if !ok || age != 17 {
		t.Errorf("expected 17 the day before the 18th birthday, got %d", age)
	}
	if IsEligible(d, refNow) {
		t.Error("donor under 18 by date of birth should not be eligible")
	}

	age, _ = AgeAt(d, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	if age != 18 {
		t.Errorf("expected 18 on the birthday, got %d", age)
	}
}

func TestComputeNextEligible(t *testing.T) {
	last := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	want := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	if got := ComputeNextEligible(last); !got.Equal(want) {
		t.Errorf("ComputeNextEligible = %v, want %v", got, want)
	}
}
