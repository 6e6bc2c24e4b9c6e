package donor

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

// Donor maps to the donor table.
type Donor struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	Name           string           `db:"name" json:"name"`
	Phone          *string          `db:"phone" json:"phone,omitempty"`
	Email          *string          `db:"email" json:"email,omitempty"`
	BloodGroup     blood.Group      `db:"blood_group" json:"blood_group"`
	DateOfBirth    *time.Time       `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Age            *int             `db:"age" json:"age,omitempty"`
	WeightKg       *decimal.Decimal `db:"weight_kg" json:"weight_kg,omitempty"`
	Hemoglobin     *decimal.Decimal `db:"hemoglobin" json:"hemoglobin,omitempty"`
	Available      bool             `db:"available" json:"available"`
	City           *string          `db:"city" json:"city,omitempty"`
	LastDonationAt *time.Time       `db:"last_donation_at" json:"last_donation_at,omitempty"`
	NextEligibleAt *time.Time       `db:"next_eligible_at" json:"next_eligible_at,omitempty"`
	TotalDonations int              `db:"total_donations" json:"total_donations"`
	TotalUnits     int              `db:"total_units" json:"total_units"`
	Version        int              `db:"version" json:"version"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

func (d *Donor) Clone() *Donor {
	c := *d
	return &c
}

// Screening holds the measurements taken right before a donation.
type Screening struct {
	WeightKg      *decimal.Decimal `json:"weight_kg,omitempty"`
	Hemoglobin    *decimal.Decimal `json:"hemoglobin,omitempty"`
	BloodPressure *string          `json:"blood_pressure,omitempty"`
	Pulse         *int             `json:"pulse,omitempty"`
}

type Filter struct {
	BloodGroup blood.Group
	City       string
	Available  *bool
}
