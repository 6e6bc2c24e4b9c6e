package donor

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

type Service struct {
	donors DonorRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(donors DonorRepository, logger zerolog.Logger) *Service {
	return &Service{donors: donors, logger: logger, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Register(ctx context.Context, d *Donor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return blood.Invalid("name", "is required")
	}
	if !d.BloodGroup.Valid() {
		return blood.Invalid("blood_group", "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
	}
	if d.DateOfBirth == nil && d.Age == nil {
		return blood.Invalid("date_of_birth", "or age is required")
	}
	if d.DateOfBirth != nil && d.DateOfBirth.After(s.now()) {
		return blood.Invalid("date_of_birth", "is in the future")
	}
	if d.Age != nil && *d.Age < 0 {
		return blood.Invalid("age", "must not be negative")
	}
	if d.WeightKg != nil && d.WeightKg.IsNegative() {
		return blood.Invalid("weight_kg", "must not be negative")
	}
	if d.Hemoglobin != nil && d.Hemoglobin.IsNegative() {
		return blood.Invalid("hemoglobin", "must not be negative")
	}
	d.LastDonationAt, d.NextEligibleAt = nil, nil
	d.TotalDonations, d.TotalUnits = 0, 0
	return s.donors.Create(ctx, d)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Donor, error) {
	return s.donors.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Donor, int, error) {
	return s.donors.Search(ctx, f, limit, offset)
}

func (s *Service) SetAvailability(ctx context.Context, id uuid.UUID, available bool) (*Donor, error) {
	return s.donors.Mutate(ctx, id, func(d *Donor) error {
		d.Available = available
		return nil
	})
}

type EligibilityReport struct {
	DonorID        uuid.UUID  `json:"donor_id"`
	Eligible       bool       `json:"eligible"`
	Unmet          []string   `json:"unmet"`
	Age            *int       `json:"age,omitempty"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
	DaysUntil      int        `json:"days_until_eligible"`
	CheckedAt      time.Time  `json:"checked_at"`
}

func (s *Service) Eligibility(ctx context.Context, id uuid.UUID) (*EligibilityReport, error) {
	d, err := s.donors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	unmet := Evaluate(d, now)
	report := &EligibilityReport{
		DonorID:        d.ID,
		Eligible:       len(unmet) == 0,
		Unmet:          unmet,
		NextEligibleAt: d.NextEligibleAt,
		CheckedAt:      now,
	}
	if report.Unmet == nil {
		report.Unmet = []string{}
	}
	if age, ok := AgeAt(d, now); ok {
		report.Age = &age
	}
	if d.NextEligibleAt != nil && d.NextEligibleAt.After(now) {
		report.DaysUntil = int(math.Ceil(d.NextEligibleAt.Sub(now).Hours() / 24))
	}
	return report, nil
}

// Donation is one completed donation applied to a donor record.
type Donation struct {
	Units     int
	At        time.Time
	Screening *Screening
}

// RecordDonation checks eligibility and updates the donation fields of the
// donor in one locked step, so a donation is counted exactly once even when
// two callers race. Screening values replace the stored health metrics
// before the check.
func (s *Service) RecordDonation(ctx context.Context, id uuid.UUID, don Donation) (*Donor, error) {
	if don.Units < 1 {
		return nil, blood.Invalid("units", "must be at least 1")
	}
	if don.At.IsZero() {
		don.At = s.now()
	}
	d, err := s.donors.Mutate(ctx, id, func(d *Donor) error {
		if don.Screening != nil {
			if don.Screening.WeightKg != nil {
				d.WeightKg = don.Screening.WeightKg
			}
			if don.Screening.Hemoglobin != nil {
				d.Hemoglobin = don.Screening.Hemoglobin
			}
		}
		if unmet := Evaluate(d, don.At); len(unmet) > 0 {
			return &blood.DonorIneligibleError{DonorID: d.ID.String(), Unmet: unmet}
		}
		if d.LastDonationAt != nil && don.At.Before(*d.LastDonationAt) {
			return blood.Invalid("donation_date", "is before the last recorded donation")
		}
		at := don.At
		next := ComputeNextEligible(at)
		d.LastDonationAt = &at
		d.NextEligibleAt = &next
		d.TotalDonations++
		d.TotalUnits += don.Units
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("donor_id", id.String()).
		Int("units", don.Units).
		Time("next_eligible_at", *d.NextEligibleAt).
		Msg("donation recorded on donor")
	return d, nil
}

// RevertDonation undoes a RecordDonation that could not be credited anywhere.
// prev is the donor as read before the donation. The revert is refused when
// a later donation has been recorded since.
func (s *Service) RevertDonation(ctx context.Context, id uuid.UUID, don Donation, prev *Donor) (*Donor, error) {
	d, err := s.donors.Mutate(ctx, id, func(d *Donor) error {
		if d.LastDonationAt == nil || !d.LastDonationAt.Equal(don.At) {
			return blood.Invalid("donation_date", "is not the last recorded donation")
		}
		d.LastDonationAt = copyTime(prev.LastDonationAt)
		d.NextEligibleAt = copyTime(prev.NextEligibleAt)
		d.TotalDonations = max(d.TotalDonations-1, 0)
		d.TotalUnits = max(d.TotalUnits-don.Units, 0)
		if don.Screening != nil {
			d.WeightKg = prev.WeightKg
			d.Hemoglobin = prev.Hemoglobin
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn().
		Str("donor_id", id.String()).
		Int("units", don.Units).
		Msg("donation reverted on donor")
	return d, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
