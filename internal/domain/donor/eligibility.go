package donor

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DonationInterval = 90 * 24 * time.Hour
	MinAge           = 18
	MaxAge           = 65
)

var (
	MinWeightKg   = decimal.NewFromInt(40)
	MinHemoglobin = decimal.RequireFromString("12.5")
)

// Eligibility criteria reported when a donor cannot give blood.
const (
	CriterionAvailability = "availability"
	CriterionAge          = "age"
	CriterionWeight       = "weight"
	CriterionHemoglobin   = "hemoglobin"
	CriterionCooldown     = "cooldown"
)

// Evaluate returns the criteria the donor fails at now, in a fixed order.
// Weight and hemoglobin are only checked when recorded.
func Evaluate(d *Donor, now time.Time) []string {
	var unmet []string
	if !d.Available {
		unmet = append(unmet, CriterionAvailability)
	}
	if age, ok := AgeAt(d, now); !ok || age < MinAge || age > MaxAge {
		unmet = append(unmet, CriterionAge)
	}
	if d.WeightKg != nil && d.WeightKg.LessThan(MinWeightKg) {
		unmet = append(unmet, CriterionWeight)
	}
	if d.Hemoglobin != nil && d.Hemoglobin.LessThan(MinHemoglobin) {
		unmet = append(unmet, CriterionHemoglobin)
	}
	if d.NextEligibleAt != nil && d.NextEligibleAt.After(now) {
		unmet = append(unmet, CriterionCooldown)
	}
	return unmet
}

func IsEligible(d *Donor, now time.Time) bool {
	return len(Evaluate(d, now)) == 0
}

func ComputeNextEligible(lastDonation time.Time) time.Time {
	return lastDonation.Add(DonationInterval)
}

// AgeAt prefers the date of birth over the stored age. ok is false when
// neither is known.
func AgeAt(d *Donor, now time.Time) (int, bool) {
	if d.DateOfBirth != nil {
		dob := d.DateOfBirth.In(now.Location())
		age := now.Year() - dob.Year()
		if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
			age--
		}
		return age, true
	}
	if d.Age != nil {
		return *d.Age, true
	}
	return 0, false
}
