package request

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/domain/donor"
	"github.com/bloodbank/bloodbank/internal/domain/inventory"
	"github.com/bloodbank/bloodbank/internal/domain/matching"
)

const (
	MaxUnitsPerRequest = 10
	DefaultLeadTime    = 24 * time.Hour
	EmergencyListLimit = 10
	systemActor        = "system"
)

var phonePattern = regexp.MustCompile(`^[0-9]{10}$`)

type DonorService interface {
	Get(ctx context.Context, id uuid.UUID) (*donor.Donor, error)
	RecordDonation(ctx context.Context, id uuid.UUID, d donor.Donation) (*donor.Donor, error)
	RevertDonation(ctx context.Context, id uuid.UUID, d donor.Donation, prev *donor.Donor) (*donor.Donor, error)
}

type Matcher interface {
	FindCandidates(ctx context.Context, c matching.Criteria) ([]matching.CenterAllocation, error)
}

type UnitReserver interface {
	Reserve(ctx context.Context, unitID uuid.UUID, quantity int, requestID uuid.UUID) (*inventory.ReservationToken, error)
	ReleaseHold(ctx context.Context, unitID, token uuid.UUID) (int, error)
	ReleaseRequest(ctx context.Context, unitID, requestID uuid.UUID) (int, error)
	Consume(ctx context.Context, unitID uuid.UUID, quantity int, requestID uuid.UUID, patientName, usedBy string) (*inventory.BloodUnit, error)
}

// Workflow drives a blood request from creation to a terminal state.
type Workflow struct {
	requests RequestRepository
	donors   DonorService
	matcher  Matcher
	units    UnitReserver
	logger   zerolog.Logger
	now      func() time.Time
}

func NewWorkflow(requests RequestRepository, donors DonorService, matcher Matcher, units UnitReserver, logger zerolog.Logger) *Workflow {
	return &Workflow{
		requests: requests,
		donors:   donors,
		matcher:  matcher,
		units:    units,
		logger:   logger,
		now:      time.Now,
	}
}

func (w *Workflow) SetClock(now func() time.Time) {
	w.now = now
}

func (w *Workflow) Now() time.Time { return w.now() }

func invalidTransition(from, to Status, reason string) error {
	return &blood.InvalidTransitionError{Kind: "blood request", From: string(from), To: string(to), Reason: reason}
}

// Create validates and stores a new Pending request.
func (w *Workflow) Create(ctx context.Context, r *BloodRequest, actor string) error {
	now := w.now()
	r.PatientName = strings.TrimSpace(r.PatientName)
	r.HospitalName = strings.TrimSpace(r.HospitalName)
	if r.PatientName == "" {
		return blood.Invalid("patient_name", "is required")
	}
	if r.HospitalName == "" {
		return blood.Invalid("hospital_name", "is required")
	}
	if !r.BloodGroup.Valid() {
		return blood.Invalid("blood_group", "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
	}
	if r.ComponentType == "" {
		r.ComponentType = blood.WholeBlood
	}
	if !r.ComponentType.Valid() {
		return blood.Invalid("component_type", "is not a known component")
	}
	if r.RequiredUnits < 1 || r.RequiredUnits > MaxUnitsPerRequest {
		return blood.Invalid("required_units", fmt.Sprintf("must be between 1 and %d", MaxUnitsPerRequest))
	}
	if r.Priority == "" {
		r.Priority = blood.PriorityNormal
	}
	if !r.Priority.Valid() {
		return blood.Invalid("priority", "must be Normal, Urgent or Emergency")
	}
	if r.NeededBy.IsZero() {
		r.NeededBy = now.Add(DefaultLeadTime)
	}
	if !r.NeededBy.After(now) {
		return blood.Invalid("needed_by", "must be in the future")
	}
	if r.ContactPhone != nil && !phonePattern.MatchString(*r.ContactPhone) {
		return blood.Invalid("contact_phone", "must be a 10-digit number")
	}
	if r.PatientAge != nil && (*r.PatientAge < 0 || *r.PatientAge > 150) {
		return blood.Invalid("patient_age", "is out of range")
	}

	r.Status = StatusPending
	r.FulfilledUnits = 0
	r.History = []StatusChange{{Status: StatusPending, Actor: actor, ChangedAt: now, Notes: "Request created"}}
	r.Donors = []DonorRecord{}
	r.Allocations = []Allocation{}
	r.RequestedBy = actor
	r.CompletedAt = nil
	if err := w.requests.Create(ctx, r); err != nil {
		return err
	}
	w.logger.Info().
		Str("request_id", r.ID.String()).
		Str("request_number", r.Number).
		Str("blood_group", string(r.BloodGroup)).
		Int("units", r.RequiredUnits).
		Str("priority", string(r.Priority)).
		Msg("blood request created")
	return nil
}

// Get loads a request, expiring it first when its deadline has passed.
func (w *Workflow) Get(ctx context.Context, id uuid.UUID) (*BloodRequest, error) {
	r, err := w.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := w.now()
	if r.Overdue(now) {
		return w.expire(ctx, r, now)
	}
	return r, nil
}

func (w *Workflow) List(ctx context.Context, f Filter, limit, offset int) ([]*BloodRequest, int, error) {
	return w.requests.Search(ctx, f, limit, offset)
}

// Emergency lists open Emergency requests that are still due, soonest first.
func (w *Workflow) Emergency(ctx context.Context) ([]*BloodRequest, error) {
	return w.requests.ListEmergency(ctx, w.now(), EmergencyListLimit)
}

func (w *Workflow) expire(ctx context.Context, r *BloodRequest, now time.Time) (*BloodRequest, error) {
	if err := w.releaseAll(ctx, r); err != nil {
		return nil, err
	}
	updated, err := w.requests.Mutate(ctx, r.ID, func(r *BloodRequest) error {
		if !r.Overdue(now) {
			return nil
		}
		markReleased(r)
		r.record(StatusExpired, systemActor, "Needed-by deadline passed", now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Status == StatusExpired {
		w.logger.Info().Str("request_id", r.ID.String()).Msg("blood request expired")
	}
	return updated, nil
}

// SweepExpired expires every Pending or Approved request needed before now.
func (w *Workflow) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := w.requests.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		r, err := w.requests.GetByID(ctx, id)
		if blood.IsNotFound(err) {
			continue
		}
		if err != nil {
			return count, err
		}
		if !r.Overdue(now) {
			continue
		}
		updated, err := w.expire(ctx, r, now)
		if err != nil {
			return count, err
		}
		if updated.Status == StatusExpired {
			count++
		}
	}
	return count, nil
}

// UpdateStatus applies a manual transition and records it in the history.
// Cancellation goes through Cancel so reservations are returned first.
func (w *Workflow) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor, notes string) (*BloodRequest, error) {
	if to == StatusCancelled {
		return w.Cancel(ctx, id, actor, notes)
	}
	if _, err := w.Get(ctx, id); err != nil {
		return nil, err
	}
	now := w.now()
	return w.requests.Mutate(ctx, id, func(r *BloodRequest) error {
		if r.Status.Terminal() {
			return invalidTransition(r.Status, to, "request is already "+string(r.Status))
		}
		if !CanTransition(r.Status, to) {
			return invalidTransition(r.Status, to, "")
		}
		if to == StatusCompleted && r.FulfilledUnits != r.RequiredUnits {
			return invalidTransition(r.Status, to,
				fmt.Sprintf("only %d of %d units fulfilled", r.FulfilledUnits, r.RequiredUnits))
		}
		if to == StatusExpired && !r.NeededBy.Before(now) {
			return invalidTransition(r.Status, to, "needed-by deadline has not passed")
		}
		r.record(to, actor, notes, now)
		return nil
	})
}

// AssignDonor credits a donation to the request. The donor must be eligible
// and compatible; the donor record is updated exactly once. Units beyond
// what the request still needs stay on the donor record and are not carried
// to another request. If the request closes before the donation is credited
// the donor update is reverted.
func (w *Workflow) AssignDonor(ctx context.Context, id, donorID uuid.UUID, units int, actor string) (*BloodRequest, error) {
	if units < 1 {
		return nil, blood.Invalid("units", "must be at least 1")
	}
	r, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, invalidTransition(r.Status, StatusProcessing, "cannot assign a donor to a "+string(r.Status)+" request")
	}
	d, err := w.donors.Get(ctx, donorID)
	if err != nil {
		return nil, err
	}
	if !blood.CanDonate(d.BloodGroup, r.BloodGroup, r.ComponentType) {
		return nil, &blood.DonorIneligibleError{DonorID: donorID.String(), Unmet: []string{"blood_group"}}
	}

	now := w.now()
	don := donor.Donation{Units: units, At: now}
	if _, err := w.donors.RecordDonation(ctx, donorID, don); err != nil {
		return nil, err
	}

	updated, err := w.requests.Mutate(ctx, id, func(r *BloodRequest) error {
		if r.Status.Terminal() {
			return invalidTransition(r.Status, StatusProcessing, "request closed while the donation was recorded")
		}
		r.Donors = append(r.Donors, DonorRecord{DonorID: donorID, Units: units, DonatedAt: now})
		r.FulfilledUnits += units
		if r.FulfilledUnits >= r.RequiredUnits {
			r.FulfilledUnits = r.RequiredUnits
			r.record(StatusCompleted, actor, "All units fulfilled", now)
		} else if r.Status != StatusProcessing {
			r.record(StatusProcessing, actor, "Donor assigned", now)
		}
		return nil
	})
	if err != nil {
		if _, rerr := w.donors.RevertDonation(context.WithoutCancel(ctx), donorID, don, d); rerr != nil {
			w.logger.Error().Err(rerr).
				Str("request_id", id.String()).
				Str("donor_id", donorID.String()).
				Msg("donation recorded on donor but not applied to request")
		}
		return nil, err
	}
	w.logger.Info().
		Str("request_id", id.String()).
		Str("donor_id", donorID.String()).
		Int("units", units).
		Str("status", string(updated.Status)).
		Msg("donor assigned")
	return w.settle(ctx, updated)
}

// AllocateInventory reserves stock for the units the request still needs.
// The plan is reserved unit by unit; if any step fails the holds already
// taken for this call are released again.
func (w *Workflow) AllocateInventory(ctx context.Context, id uuid.UUID, actor string) (*BloodRequest, error) {
	r, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Status.Open() {
		return nil, invalidTransition(r.Status, StatusProcessing, "request is "+string(r.Status))
	}
	need := r.Remaining() - r.Outstanding()
	if need <= 0 {
		return r, nil
	}

	cands, err := w.matcher.FindCandidates(ctx, matching.Criteria{
		BloodGroup:        r.BloodGroup,
		ComponentType:     blood.StoredAs(r.ComponentType),
		MinQuantity:       need,
		VerifiedOnly:      true,
		AllowPartial:      true,
		IncludeCompatible: true,
	})
	if err != nil {
		return nil, err
	}
	picks, short := matching.PlanAllocation(cands, need)
	if short > 0 {
		return nil, &blood.InsufficientUnitsError{Available: need - short, Requested: need}
	}

	taken := make([]Allocation, 0, len(picks))
	for _, p := range picks {
		tok, err := w.units.Reserve(ctx, p.UnitID, p.Quantity, r.ID)
		if err != nil {
			w.compensate(ctx, r.ID, taken)
			return nil, err
		}
		taken = append(taken, Allocation{
			UnitID:     p.UnitID,
			CenterID:   p.CenterID,
			BloodGroup: p.BloodGroup,
			Token:      tok.Token,
			Quantity:   p.Quantity,
			ReservedAt: tok.ReservedAt,
		})
	}

	now := w.now()
	updated, err := w.requests.Mutate(ctx, id, func(r *BloodRequest) error {
		if !r.Status.Open() {
			return invalidTransition(r.Status, StatusProcessing, "request closed during allocation")
		}
		r.Allocations = append(r.Allocations, taken...)
		if r.Status != StatusProcessing {
			r.record(StatusProcessing, actor, fmt.Sprintf("%d units reserved from inventory", need), now)
		}
		return nil
	})
	if err != nil {
		w.compensate(ctx, id, taken)
		return nil, err
	}
	w.logger.Info().
		Str("request_id", id.String()).
		Int("units", need).
		Int("holds", len(taken)).
		Msg("inventory allocated")
	return updated, nil
}

// compensate releases holds taken by a failed allocation. It runs even when
// ctx is already cancelled.
func (w *Workflow) compensate(ctx context.Context, requestID uuid.UUID, taken []Allocation) {
	ctx = context.WithoutCancel(ctx)
	for _, a := range taken {
		if _, err := w.units.ReleaseHold(ctx, a.UnitID, a.Token); err != nil {
			w.logger.Error().Err(err).
				Str("request_id", requestID.String()).
				Str("unit_id", a.UnitID.String()).
				Str("token", a.Token.String()).
				Msg("failed to release hold during rollback")
		}
	}
	if len(taken) > 0 {
		w.logger.Warn().Str("request_id", requestID.String()).Int("holds", len(taken)).Msg("allocation rolled back")
	}
}

// ConfirmTransfusion consumes the request's reservations and credits the
// consumed units. Consumption that succeeded is recorded even if a later
// unit fails; that error is returned alongside the updated request. Holds on
// units that expired or were discarded are released so the shortfall can be
// allocated again. A request that closed while its units were consumed keeps
// the usage on its allocations but is neither credited nor completed, and an
// InvalidTransitionError is returned.
func (w *Workflow) ConfirmTransfusion(ctx context.Context, id uuid.UUID, actor string) (*BloodRequest, error) {
	r, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusProcessing {
		return nil, invalidTransition(r.Status, StatusCompleted, "only Processing requests can be transfused")
	}
	if r.Outstanding() == 0 {
		return nil, invalidTransition(r.Status, StatusCompleted, "no reserved units to transfuse")
	}

	consumed := make(map[uuid.UUID]int)
	dropped := make(map[uuid.UUID]bool)
	var consumeErr error
	for _, a := range r.Allocations {
		q := a.Outstanding()
		if q == 0 || dropped[a.UnitID] {
			continue
		}
		_, err := w.units.Consume(ctx, a.UnitID, q, r.ID, r.PatientName, actor)
		if err == nil {
			consumed[a.Token] = q
			continue
		}
		if !inventory.IsUnusable(err) {
			consumeErr = errors.Join(consumeErr, fmt.Errorf("consume unit %s: %w", a.UnitID, err))
			break
		}
		if _, rerr := w.units.ReleaseRequest(ctx, a.UnitID, r.ID); rerr != nil && !blood.IsNotFound(rerr) {
			consumeErr = errors.Join(consumeErr, fmt.Errorf("release unit %s: %w", a.UnitID, rerr))
			break
		}
		dropped[a.UnitID] = true
		consumeErr = errors.Join(consumeErr, fmt.Errorf("unit %s dropped from the request: %w", a.UnitID, err))
		w.logger.Warn().Err(err).
			Str("request_id", id.String()).
			Str("unit_id", a.UnitID.String()).
			Msg("reserved unit no longer usable, hold released")
	}
	if len(consumed) == 0 && len(dropped) == 0 {
		return nil, consumeErr
	}

	now := w.now()
	closed := false
	updated, err := w.requests.Mutate(ctx, id, func(r *BloodRequest) error {
		closed = r.Status != StatusProcessing
		total := 0
		for i := range r.Allocations {
			a := &r.Allocations[i]
			if q, ok := consumed[a.Token]; ok {
				a.Consumed += q
				total += q
			}
			if dropped[a.UnitID] && a.Outstanding() > 0 {
				a.Released = true
			}
		}
		if closed {
			return nil
		}
		r.FulfilledUnits += total
		if r.FulfilledUnits > r.RequiredUnits {
			r.FulfilledUnits = r.RequiredUnits
		}
		if r.FulfilledUnits == r.RequiredUnits {
			r.record(StatusCompleted, actor, "Transfusion confirmed", now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closed {
		w.logger.Error().
			Str("request_id", id.String()).
			Str("status", string(updated.Status)).
			Int("holds", len(consumed)).
			Msg("units consumed for a request that closed meanwhile")
		return nil, errors.Join(invalidTransition(updated.Status, StatusCompleted,
			"request closed during transfusion; consumed units were not credited"), consumeErr)
	}
	w.logger.Info().
		Str("request_id", id.String()).
		Int("fulfilled", updated.FulfilledUnits).
		Str("status", string(updated.Status)).
		Msg("transfusion confirmed")
	updated, err = w.settle(ctx, updated)
	if err != nil {
		return nil, err
	}
	return updated, consumeErr
}

// Cancel returns every outstanding reservation to stock and then moves the
// request to Cancelled.
func (w *Workflow) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*BloodRequest, error) {
	r, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, invalidTransition(r.Status, StatusCancelled, "request is already "+string(r.Status))
	}
	if err := w.releaseAll(ctx, r); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "Request cancelled"
	}
	var late *BloodRequest
	updated, err := w.requests.Mutate(ctx, id, func(r *BloodRequest) error {
		if r.Status.Terminal() {
			return invalidTransition(r.Status, StatusCancelled, "request is already "+string(r.Status))
		}
		late = r.Clone()
		markReleased(r)
		r.record(StatusCancelled, actor, reason, w.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Holds added between the release and the status change.
	if err := w.releaseAll(ctx, late); err != nil {
		w.logger.Error().Err(err).Str("request_id", id.String()).Msg("failed to release late holds")
	}
	w.logger.Info().Str("request_id", id.String()).Str("actor", actor).Msg("blood request cancelled")
	return updated, nil
}

// settle returns leftover holds of a request that has just completed.
func (w *Workflow) settle(ctx context.Context, r *BloodRequest) (*BloodRequest, error) {
	if r.Status != StatusCompleted || r.Outstanding() == 0 {
		return r, nil
	}
	if err := w.releaseAll(ctx, r); err != nil {
		return nil, err
	}
	return w.requests.Mutate(ctx, r.ID, func(r *BloodRequest) error {
		markReleased(r)
		return nil
	})
}

// releaseAll drops the request's holds on every unit it still has
// reservations on. Units run one after another since the request may be
// pinned to a single connection; every unit is attempted before returning.
func (w *Workflow) releaseAll(ctx context.Context, r *BloodRequest) error {
	seen := make(map[uuid.UUID]bool)
	var errs []error
	for _, a := range r.Allocations {
		if a.Outstanding() == 0 || seen[a.UnitID] {
			continue
		}
		seen[a.UnitID] = true
		n, err := w.units.ReleaseRequest(ctx, a.UnitID, r.ID)
		if blood.IsNotFound(err) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("release unit %s: %w", a.UnitID, err))
			continue
		}
		w.logger.Debug().Str("request_id", r.ID.String()).Str("unit_id", a.UnitID.String()).Int("quantity", n).Msg("hold released")
	}
	return errors.Join(errs...)
}

func markReleased(r *BloodRequest) {
	for i := range r.Allocations {
		if r.Allocations[i].Outstanding() > 0 {
			r.Allocations[i].Released = true
		}
	}
}
