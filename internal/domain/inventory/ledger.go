package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

const (
	ExpiryAlertWindow    = 7 * 24 * time.Hour
	CriticalExpiryWindow = 3 * 24 * time.Hour
	LowStockThreshold    = 5
)

// Ledger owns the lifecycle of blood units.
type Ledger struct {
	units  UnitRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewLedger(units UnitRepository, logger zerolog.Logger) *Ledger {
	return &Ledger{units: units, logger: logger, now: time.Now}
}

// SetClock replaces the time source used for derived fields.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Ledger) Now() time.Time { return l.now() }

// Collection describes a freshly drawn unit.
type Collection struct {
	CenterID        uuid.UUID       `json:"center_id"`
	BloodGroup      blood.Group     `json:"blood_group"`
	ComponentType   blood.Component `json:"component_type"`
	Quantity        int             `json:"quantity"`
	CollectedAt     time.Time       `json:"collected_at"`
	DonorID         *uuid.UUID      `json:"donor_id,omitempty"`
	DonationID      *uuid.UUID      `json:"donation_id,omitempty"`
	BatchNumber     *string         `json:"batch_number,omitempty"`
	StorageLocation *string         `json:"storage_location,omitempty"`
}

func (l *Ledger) RecordCollection(ctx context.Context, in Collection) (*BloodUnit, error) {
	if in.CenterID == uuid.Nil {
		return nil, blood.Invalid("center_id", "is required")
	}
	if !in.BloodGroup.Valid() {
		return nil, blood.Invalid("blood_group", "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
	}
	if !in.ComponentType.Valid() {
		return nil, blood.Invalid("component_type", "is not a known component")
	}
	if in.Quantity < 1 {
		return nil, blood.Invalid("quantity", "must be at least 1")
	}
	if in.CollectedAt.IsZero() {
		in.CollectedAt = l.now()
	}

	u := &BloodUnit{
		CenterID:        in.CenterID,
		BloodGroup:      in.BloodGroup,
		ComponentType:   in.ComponentType,
		CollectedAt:     in.CollectedAt,
		ExpiresAt:       in.CollectedAt.Add(blood.ShelfLife(in.ComponentType)),
		Collected:       in.Quantity,
		Available:       in.Quantity,
		Status:          StatusCollected,
		DonorID:         in.DonorID,
		DonationID:      in.DonationID,
		BatchNumber:     in.BatchNumber,
		StorageLocation: in.StorageLocation,
	}
	if err := l.units.Create(ctx, u); err != nil {
		return nil, err
	}
	l.logger.Info().
		Str("unit_id", u.ID.String()).
		Str("center_id", u.CenterID.String()).
		Str("blood_group", string(u.BloodGroup)).
		Int("quantity", u.Collected).
		Msg("unit collected")
	return u, nil
}

// RecordTestResult merges pathogen results into the unit's panel. Any positive
// result discards the unit. A complete negative panel with a confirmed blood
// group releases it to stock; without confirmation it is discarded. A partial
// negative panel leaves the unit in Tested until the remaining results arrive.
func (l *Ledger) RecordTestResult(ctx context.Context, id uuid.UUID, panel PathogenPanel, groupConfirmed bool) (*BloodUnit, error) {
	u, err := l.units.Mutate(ctx, id, func(u *BloodUnit) error {
		if u.Status != StatusCollected && u.Status != StatusTested {
			return &blood.InvalidTransitionError{Kind: "blood unit", From: string(u.Status), To: string(StatusTested),
				Reason: "unit is already past testing"}
		}
		u.Panel = u.Panel.Merge(panel)
		if groupConfirmed {
			u.GroupConfirmed = true
		}
		switch {
		case u.Panel.AnyPositive():
			discard(u)
		case !u.Panel.Complete():
			u.Status = StatusTested
		case u.GroupConfirmed:
			u.Status = StatusAvailable
		default:
			discard(u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().Str("unit_id", id.String()).Str("status", string(u.Status)).Msg("test result recorded")
	return u, nil
}

func discard(u *BloodUnit) {
	u.Status = StatusDiscarded
	u.Available = 0
}

// SweepExpired moves every Available unit whose expiry is at or before now to
// Expired. Reserved quantity stays on the unit until its holder releases it.
func (l *Ledger) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := l.units.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		changed := false
		_, err := l.units.Mutate(ctx, id, func(u *BloodUnit) error {
			if u.Status != StatusAvailable || u.ExpiresAt.After(now) {
				return nil
			}
			u.Status = StatusExpired
			u.Available = 0
			changed = true
			return nil
		})
		if blood.IsNotFound(err) {
			continue
		}
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	if count > 0 {
		l.logger.Info().Int("expired", count).Time("now", now).Msg("expired units swept")
	}
	return count, nil
}

func (l *Ledger) GetUnit(ctx context.Context, id uuid.UUID) (*BloodUnit, error) {
	return l.units.GetByID(ctx, id)
}

func (l *Ledger) SearchUnits(ctx context.Context, f UnitFilter, limit, offset int) ([]*BloodUnit, int, error) {
	return l.units.Search(ctx, f, limit, offset)
}

func (l *Ledger) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	return l.units.Delete(ctx, id)
}

// AvailableUnits returns usable stock ordered by expiry, soonest first.
func (l *Ledger) AvailableUnits(ctx context.Context, q AvailabilityQuery) ([]*BloodUnit, error) {
	if q.Now.IsZero() {
		q.Now = l.now()
	}
	return l.units.ListAvailable(ctx, q)
}

type ExpiryAlert struct {
	UnitID        uuid.UUID       `json:"unit_id"`
	CenterID      uuid.UUID       `json:"center_id"`
	BloodGroup    blood.Group     `json:"blood_group"`
	ComponentType blood.Component `json:"component_type"`
	Available     int             `json:"available"`
	ExpiresAt     time.Time       `json:"expires_at"`
	DaysToExpiry  int             `json:"days_to_expiry"`
	Severity      string          `json:"severity"`
}

type StockAlert struct {
	BloodGroup blood.Group `json:"blood_group"`
	Units      int         `json:"units"`
}

type AlertReport struct {
	ExpiringSoon []ExpiryAlert `json:"expiring_soon"`
	LowStock     []StockAlert  `json:"low_stock"`
	OutOfStock   []StockAlert  `json:"out_of_stock"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

// Alerts reports units expiring within a week and blood groups whose usable
// stock is low or exhausted. centerID may be nil for the whole network.
func (l *Ledger) Alerts(ctx context.Context, centerID *uuid.UUID) (*AlertReport, error) {
	now := l.now()
	q := AvailabilityQuery{Now: now}
	if centerID != nil {
		q.CenterIDs = []uuid.UUID{*centerID}
	}
	units, err := l.units.ListAvailable(ctx, q)
	if err != nil {
		return nil, err
	}

	report := &AlertReport{
		ExpiringSoon: []ExpiryAlert{},
		LowStock:     []StockAlert{},
		OutOfStock:   []StockAlert{},
		GeneratedAt:  now,
	}
	stock := make(map[blood.Group]int, len(blood.Groups))
	for _, u := range units {
		stock[u.BloodGroup] += u.Available
		left := u.ExpiresAt.Sub(now)
		if left > ExpiryAlertWindow {
			continue
		}
		severity := "warning"
		if left <= CriticalExpiryWindow {
			severity = "critical"
		}
		report.ExpiringSoon = append(report.ExpiringSoon, ExpiryAlert{
			UnitID:        u.ID,
			CenterID:      u.CenterID,
			BloodGroup:    u.BloodGroup,
			ComponentType: u.ComponentType,
			Available:     u.Available,
			ExpiresAt:     u.ExpiresAt,
			DaysToExpiry:  u.DaysToExpiry(now),
			Severity:      severity,
		})
	}
	for _, g := range blood.Groups {
		n := stock[g]
		switch {
		case n == 0:
			report.OutOfStock = append(report.OutOfStock, StockAlert{BloodGroup: g})
		case n <= LowStockThreshold:
			report.LowStock = append(report.LowStock, StockAlert{BloodGroup: g, Units: n})
		}
	}
	return report, nil
}
