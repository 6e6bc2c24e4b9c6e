package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

// ReservationToken identifies one hold placed by Reserve.
type ReservationToken struct {
	Token      uuid.UUID `json:"token"`
	UnitID     uuid.UUID `json:"unit_id"`
	CenterID   uuid.UUID `json:"center_id"`
	RequestID  uuid.UUID `json:"request_id"`
	Quantity   int       `json:"quantity"`
	ReservedAt time.Time `json:"reserved_at"`
}

// Reservations performs the counter operations on single units. Every call is
// one atomic step on one unit.
type Reservations struct {
	units  UnitRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewReservations(units UnitRepository, logger zerolog.Logger) *Reservations {
	return &Reservations{units: units, logger: logger, now: time.Now}
}

func (s *Reservations) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Reservations) Reserve(ctx context.Context, unitID uuid.UUID, quantity int, requestID uuid.UUID) (*ReservationToken, error) {
	if quantity < 1 {
		return nil, blood.Invalid("quantity", "must be at least 1")
	}
	now := s.now()
	hold := Hold{Token: uuid.New(), RequestID: requestID, Quantity: quantity, ReservedAt: now}

	u, err := s.units.Mutate(ctx, unitID, func(u *BloodUnit) error {
		if u.Status != StatusAvailable && u.Status != StatusReserved {
			return &blood.InvalidTransitionError{Kind: "blood unit", From: string(u.Status), To: string(StatusReserved),
				Reason: "unit is not in stock"}
		}
		if !u.ExpiresAt.After(now) {
			return &blood.InvalidTransitionError{Kind: "blood unit", From: string(u.Status), To: string(StatusReserved),
				Reason: "unit has expired"}
		}
		if u.Available < quantity {
			return &blood.InsufficientUnitsError{UnitID: u.ID.String(), Available: u.Available, Requested: quantity}
		}
		u.Available -= quantity
		u.Reserved += quantity
		u.Holds = append(u.Holds, hold)
		if u.Available == 0 {
			u.Status = StatusReserved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("unit_id", unitID.String()).
		Str("request_id", requestID.String()).
		Int("quantity", quantity).
		Int("available", u.Available).
		Msg("units reserved")
	return &ReservationToken{
		Token:      hold.Token,
		UnitID:     u.ID,
		CenterID:   u.CenterID,
		RequestID:  requestID,
		Quantity:   quantity,
		ReservedAt: now,
	}, nil
}

// Release returns quantity reserved units to stock, newest holds first.
func (s *Reservations) Release(ctx context.Context, unitID uuid.UUID, quantity int) (*BloodUnit, error) {
	if quantity < 1 {
		return nil, blood.Invalid("quantity", "must be at least 1")
	}
	return s.units.Mutate(ctx, unitID, func(u *BloodUnit) error {
		if quantity > u.Reserved {
			return &blood.OverReleaseError{UnitID: u.ID.String(), Reserved: u.Reserved, Requested: quantity}
		}
		takeHolds(u, quantity, func(Hold) bool { return true })
		restore(u, quantity)
		return nil
	})
}

// ReleaseRequest drops every hold that requestID owns on the unit and returns
// the released quantity.
func (s *Reservations) ReleaseRequest(ctx context.Context, unitID, requestID uuid.UUID) (int, error) {
	released := 0
	_, err := s.units.Mutate(ctx, unitID, func(u *BloodUnit) error {
		released = 0
		kept := u.Holds[:0]
		for _, h := range u.Holds {
			if h.RequestID == requestID {
				released += h.Quantity
				continue
			}
			kept = append(kept, h)
		}
		u.Holds = kept
		restore(u, released)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if released > 0 {
		s.logger.Info().
			Str("unit_id", unitID.String()).
			Str("request_id", requestID.String()).
			Int("quantity", released).
			Msg("reservation released")
	}
	return released, nil
}

// ReleaseHold drops the single hold identified by token. Releasing a token
// that is already gone returns 0 and no error.
func (s *Reservations) ReleaseHold(ctx context.Context, unitID, token uuid.UUID) (int, error) {
	released := 0
	_, err := s.units.Mutate(ctx, unitID, func(u *BloodUnit) error {
		released = 0
		for i, h := range u.Holds {
			if h.Token == token {
				released = h.Quantity
				u.Holds = append(u.Holds[:i], u.Holds[i+1:]...)
				break
			}
		}
		restore(u, released)
		return nil
	})
	return released, err
}

// restore moves quantity from reserved back to available. Units that left
// stock while reserved only lose the hold.
func restore(u *BloodUnit, quantity int) {
	u.Reserved -= quantity
	switch u.Status {
	case StatusAvailable, StatusReserved:
		u.Available += quantity
		if u.Available > 0 {
			u.Status = StatusAvailable
		}
	}
}

// Consume records quantity reserved units as transfused. Only holds owned by
// requestID are drawn down; another request's reservation is never used.
func (s *Reservations) Consume(ctx context.Context, unitID uuid.UUID, quantity int, requestID uuid.UUID, patientName, usedBy string) (*BloodUnit, error) {
	if quantity < 1 {
		return nil, blood.Invalid("quantity", "must be at least 1")
	}
	now := s.now()
	u, err := s.units.Mutate(ctx, unitID, func(u *BloodUnit) error {
		if u.Status != StatusAvailable && u.Status != StatusReserved {
			return unusable(u, "unit is no longer usable")
		}
		if !u.ExpiresAt.After(now) {
			return unusable(u, "unit has expired")
		}
		owned := u.HeldBy(requestID)
		if quantity > owned {
			return &blood.OverConsumeError{UnitID: u.ID.String(), Reserved: owned, Requested: quantity}
		}
		takeHolds(u, quantity, func(h Hold) bool { return h.RequestID == requestID })
		u.Reserved -= quantity
		u.Used += quantity
		u.Usage = append(u.Usage, UsageEntry{
			RequestID:   requestID,
			PatientName: patientName,
			Units:       quantity,
			UsedAt:      now,
			UsedBy:      usedBy,
		})
		if u.Available == 0 {
			if u.Reserved == 0 {
				u.Status = StatusTransfused
			} else {
				u.Status = StatusReserved
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("unit_id", unitID.String()).
		Str("request_id", requestID.String()).
		Int("quantity", quantity).
		Str("status", string(u.Status)).
		Msg("units consumed")
	return u, nil
}

func unusable(u *BloodUnit, reason string) error {
	return &blood.InvalidTransitionError{Kind: "blood unit", From: string(u.Status), To: string(StatusTransfused), Reason: reason}
}

// IsUnusable reports whether Consume failed because the unit left stock or
// expired. Holds on such a unit can only be released.
func IsUnusable(err error) bool {
	var it *blood.InvalidTransitionError
	return errors.As(err, &it) && it.Kind == "blood unit" && it.To == string(StatusTransfused)
}

// takeHolds removes up to want units from the holds accepted by match, newest
// first, and returns what could not be taken.
func takeHolds(u *BloodUnit, want int, match func(Hold) bool) int {
	for i := len(u.Holds) - 1; i >= 0 && want > 0; i-- {
		if match(u.Holds[i]) {
			want -= takeFromHold(u, i, want)
		}
	}
	return want
}

// takeFromHold removes up to want units from hold i, dropping the hold when it
// is emptied, and returns how many were taken.
func takeFromHold(u *BloodUnit, i, want int) int {
	h := &u.Holds[i]
	if h.Quantity > want {
		h.Quantity -= want
		return want
	}
	n := h.Quantity
	u.Holds = append(u.Holds[:i], u.Holds[i+1:]...)
	return n
}
