package donation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/domain/center"
	"github.com/bloodbank/bloodbank/internal/domain/donor"
	"github.com/bloodbank/bloodbank/internal/domain/inventory"
)

// MaxUnitsPerDonation caps a single sitting.
const MaxUnitsPerDonation = 2

type DonorService interface {
	Get(ctx context.Context, id uuid.UUID) (*donor.Donor, error)
	RecordDonation(ctx context.Context, id uuid.UUID, d donor.Donation) (*donor.Donor, error)
}

type UnitCollector interface {
	RecordCollection(ctx context.Context, in inventory.Collection) (*inventory.BloodUnit, error)
	DeleteUnit(ctx context.Context, id uuid.UUID) error
}

// Input is what the collecting staff submit for one donation.
type Input struct {
	DonorID         uuid.UUID        `json:"donor_id"`
	CenterID        uuid.UUID        `json:"center_id"`
	DonationType    blood.Component  `json:"donation_type"`
	Units           int              `json:"units"`
	WeightKg        *decimal.Decimal `json:"weight_kg"`
	Hemoglobin      *decimal.Decimal `json:"hemoglobin"`
	BloodPressure   *string          `json:"blood_pressure"`
	Pulse           *int             `json:"pulse"`
	DonatedAt       time.Time        `json:"donated_at"`
	BatchNumber     *string          `json:"batch_number"`
	StorageLocation *string          `json:"storage_location"`
}

func (in Input) screening() *donor.Screening {
	return &donor.Screening{
		WeightKg:      in.WeightKg,
		Hemoglobin:    in.Hemoglobin,
		BloodPressure: in.BloodPressure,
		Pulse:         in.Pulse,
	}
}

// Service records donations. A donation touches three stores: the unit
// ledger, the donation table and the donor record. They are written in that
// order and undone in reverse when a later step fails.
type Service struct {
	donations DonationRepository
	donors    DonorService
	units     UnitCollector
	centers   center.Directory
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(donations DonationRepository, donors DonorService, units UnitCollector, centers center.Directory, logger zerolog.Logger) *Service {
	return &Service{
		donations: donations,
		donors:    donors,
		units:     units,
		centers:   centers,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Record(ctx context.Context, in Input, collectedBy string) (*Donation, error) {
	if in.DonorID == uuid.Nil {
		return nil, blood.Invalid("donor_id", "is required")
	}
	if in.CenterID == uuid.Nil {
		return nil, blood.Invalid("center_id", "is required")
	}
	if in.Units == 0 {
		in.Units = 1
	}
	if in.Units < 1 || in.Units > MaxUnitsPerDonation {
		return nil, blood.Invalid("units", "must be 1 or 2")
	}
	if in.DonationType == "" {
		in.DonationType = blood.WholeBlood
	}
	if !in.DonationType.Valid() {
		return nil, blood.Invalid("donation_type", "is not a known component")
	}
	if in.Pulse != nil && *in.Pulse <= 0 {
		return nil, blood.Invalid("pulse", "must be positive")
	}
	if in.BloodPressure != nil && !strings.Contains(*in.BloodPressure, "/") {
		return nil, blood.Invalid("blood_pressure", "must look like 120/80")
	}
	now := s.now()
	if in.DonatedAt.IsZero() {
		in.DonatedAt = now
	}
	if in.DonatedAt.After(now) {
		return nil, blood.Invalid("donated_at", "must not be in the future")
	}

	if _, err := s.centers.Get(ctx, in.CenterID); err != nil {
		return nil, err
	}
	d, err := s.donors.Get(ctx, in.DonorID)
	if err != nil {
		return nil, err
	}
	// Fail before anything is written. The donor update re-checks under lock.
	screened := d.Clone()
	if in.WeightKg != nil {
		screened.WeightKg = in.WeightKg
	}
	if in.Hemoglobin != nil {
		screened.Hemoglobin = in.Hemoglobin
	}
	if unmet := donor.Evaluate(screened, in.DonatedAt); len(unmet) > 0 {
		return nil, &blood.DonorIneligibleError{DonorID: d.ID.String(), Unmet: unmet}
	}

	rec := &Donation{
		ID:             uuid.New(),
		DonorID:        d.ID,
		CenterID:       in.CenterID,
		DonationType:   in.DonationType,
		BloodGroup:     d.BloodGroup,
		UnitsCollected: in.Units,
		WeightKg:       in.WeightKg,
		Hemoglobin:     in.Hemoglobin,
		BloodPressure:  in.BloodPressure,
		Pulse:          in.Pulse,
		CollectedBy:    collectedBy,
		NextEligibleAt: donor.ComputeNextEligible(in.DonatedAt),
		DonatedAt:      in.DonatedAt,
	}

	unit, err := s.units.RecordCollection(ctx, inventory.Collection{
		CenterID:        in.CenterID,
		BloodGroup:      d.BloodGroup,
		ComponentType:   blood.StoredAs(in.DonationType),
		Quantity:        in.Units,
		CollectedAt:     in.DonatedAt,
		DonorID:         &rec.DonorID,
		DonationID:      &rec.ID,
		BatchNumber:     in.BatchNumber,
		StorageLocation: in.StorageLocation,
	})
	if err != nil {
		return nil, err
	}
	rec.UnitID = unit.ID

	if err := s.donations.Create(ctx, rec); err != nil {
		s.undoUnit(ctx, rec)
		return nil, err
	}

	if _, err := s.donors.RecordDonation(ctx, d.ID, donor.Donation{
		Units:     in.Units,
		At:        in.DonatedAt,
		Screening: in.screening(),
	}); err != nil {
		undo := context.WithoutCancel(ctx)
		if derr := s.donations.Delete(undo, rec.ID); derr != nil {
			s.logger.Error().Err(derr).Str("donation_id", rec.ID.String()).Msg("failed to remove donation record")
		}
		s.undoUnit(ctx, rec)
		return nil, err
	}

	s.logger.Info().
		Str("donation_id", rec.ID.String()).
		Str("donor_id", rec.DonorID.String()).
		Str("unit_id", rec.UnitID.String()).
		Str("center_id", rec.CenterID.String()).
		Int("units", rec.UnitsCollected).
		Msg("donation recorded")
	return rec, nil
}

func (s *Service) undoUnit(ctx context.Context, rec *Donation) {
	if err := s.units.DeleteUnit(context.WithoutCancel(ctx), rec.UnitID); err != nil {
		s.logger.Error().Err(err).
			Str("donation_id", rec.ID.String()).
			Str("unit_id", rec.UnitID.String()).
			Msg("failed to remove unit of rejected donation")
		return
	}
	s.logger.Warn().Str("donation_id", rec.ID.String()).Str("unit_id", rec.UnitID.String()).Msg("donation rolled back")
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Donation, error) {
	return s.donations.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Donation, int, error) {
	return s.donations.Search(ctx, f, limit, offset)
}
