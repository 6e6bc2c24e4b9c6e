package donation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

// Donation maps to the donation table. One record is written per collected
// bag and links the donor to the unit it produced.
type Donation struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	DonorID        uuid.UUID        `db:"donor_id" json:"donor_id"`
	CenterID       uuid.UUID        `db:"center_id" json:"center_id"`
	DonationType   blood.Component  `db:"donation_type" json:"donation_type"`
	BloodGroup     blood.Group      `db:"blood_group" json:"blood_group"`
	UnitsCollected int              `db:"units_collected" json:"units_collected"`
	WeightKg       *decimal.Decimal `db:"weight_kg" json:"weight_kg,omitempty"`
	Hemoglobin     *decimal.Decimal `db:"hemoglobin" json:"hemoglobin,omitempty"`
	BloodPressure  *string          `db:"blood_pressure" json:"blood_pressure,omitempty"`
	Pulse          *int             `db:"pulse" json:"pulse,omitempty"`
	CollectedBy    string           `db:"collected_by" json:"collected_by,omitempty"`
	UnitID         uuid.UUID        `db:"unit_id" json:"unit_id"`
	NextEligibleAt time.Time        `db:"next_eligible_at" json:"next_eligible_at"`
	DonatedAt      time.Time        `db:"donated_at" json:"donated_at"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

type Filter struct {
	DonorID  *uuid.UUID
	CenterID *uuid.UUID
}
