package request

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusApproved   Status = "Approved"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
	StatusExpired    Status = "Expired"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// Open reports whether the request still waits for blood.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusApproved || s == StatusProcessing
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusProcessing, StatusCancelled, StatusExpired},
	StatusApproved:   {StatusProcessing, StatusCancelled, StatusExpired},
	StatusProcessing: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	for _, v := range []Status{StatusPending, StatusApproved, StatusProcessing, StatusCompleted, StatusCancelled, StatusExpired} {
		if string(v) == s {
			return v, nil
		}
	}
	return "", blood.Invalid("status", fmt.Sprintf("%q is not a request status", s))
}

type StatusChange struct {
	Status    Status    `json:"status"`
	Actor     string    `json:"actor"`
	ChangedAt time.Time `json:"changed_at"`
	Notes     string    `json:"notes,omitempty"`
}

type DonorRecord struct {
	DonorID   uuid.UUID `json:"donor_id"`
	Units     int       `json:"units"`
	DonatedAt time.Time `json:"donated_at"`
}

// Allocation is a reservation taken from inventory for this request.
type Allocation struct {
	UnitID     uuid.UUID   `json:"unit_id"`
	CenterID   uuid.UUID   `json:"center_id"`
	BloodGroup blood.Group `json:"blood_group"`
	Token      uuid.UUID   `json:"token"`
	Quantity   int         `json:"quantity"`
	Consumed   int         `json:"consumed"`
	Released   bool        `json:"released"`
	ReservedAt time.Time   `json:"reserved_at"`
}

// Outstanding is the reserved quantity not yet consumed or released.
func (a Allocation) Outstanding() int {
	if a.Released {
		return 0
	}
	return a.Quantity - a.Consumed
}

// BloodRequest maps to the blood_request table.
type BloodRequest struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	Number         string          `db:"request_number" json:"request_number"`
	PatientName    string          `db:"patient_name" json:"patient_name"`
	PatientAge     *int            `db:"patient_age" json:"patient_age,omitempty"`
	PatientGender  *string         `db:"patient_gender" json:"patient_gender,omitempty"`
	HospitalName   string          `db:"hospital_name" json:"hospital_name"`
	HospitalID     *uuid.UUID      `db:"hospital_id" json:"hospital_id,omitempty"`
	City           *string         `db:"city" json:"city,omitempty"`
	ContactPhone   *string         `db:"contact_phone" json:"contact_phone,omitempty"`
	Reason         *string         `db:"reason" json:"reason,omitempty"`
	BloodGroup     blood.Group     `db:"blood_group" json:"blood_group"`
	ComponentType  blood.Component `db:"component_type" json:"component_type"`
	RequiredUnits  int             `db:"required_units" json:"required_units"`
	FulfilledUnits int             `db:"fulfilled_units" json:"fulfilled_units"`
	Priority       blood.Priority  `db:"priority" json:"priority"`
	NeededBy       time.Time       `db:"needed_by" json:"needed_by"`
	Status         Status          `db:"status" json:"status"`
	History        []StatusChange  `db:"status_history" json:"status_history"`
	Donors         []DonorRecord   `db:"donors" json:"donors"`
	Allocations    []Allocation    `db:"allocations" json:"allocations"`
	RequestedBy    string          `db:"requested_by" json:"requested_by,omitempty"`
	Version        int             `db:"version" json:"version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

func (r *BloodRequest) Clone() *BloodRequest {
	c := *r
	c.History = append([]StatusChange(nil), r.History...)
	c.Donors = append([]DonorRecord(nil), r.Donors...)
	c.Allocations = append([]Allocation(nil), r.Allocations...)
	return &c
}

func (r *BloodRequest) Remaining() int {
	return r.RequiredUnits - r.FulfilledUnits
}

// Outstanding sums the reservations still held for the request.
func (r *BloodRequest) Outstanding() int {
	n := 0
	for _, a := range r.Allocations {
		n += a.Outstanding()
	}
	return n
}

// Overdue reports an open request whose deadline has passed.
func (r *BloodRequest) Overdue(now time.Time) bool {
	return (r.Status == StatusPending || r.Status == StatusApproved) && r.NeededBy.Before(now)
}

// Urgency grades a waiting request by the hours left until NeededBy.
func (r *BloodRequest) Urgency(now time.Time) string {
	if r.Status != StatusPending && r.Status != StatusApproved {
		return "none"
	}
	hours := r.NeededBy.Sub(now).Hours()
	switch {
	case hours <= 6:
		return "critical"
	case hours <= 24:
		return "high"
	case hours <= 48:
		return "medium"
	}
	return "low"
}

func (r *BloodRequest) CheckInvariants() error {
	if r.FulfilledUnits < 0 || r.FulfilledUnits > r.RequiredUnits {
		return fmt.Errorf("request %s: fulfilled %d outside 0..%d", r.ID, r.FulfilledUnits, r.RequiredUnits)
	}
	if (r.Status == StatusCompleted) != (r.FulfilledUnits == r.RequiredUnits) {
		return fmt.Errorf("request %s: status %s with %d of %d units fulfilled", r.ID, r.Status, r.FulfilledUnits, r.RequiredUnits)
	}
	return nil
}

// record changes the status and appends the history entry.
func (r *BloodRequest) record(to Status, actor, notes string, at time.Time) {
	r.Status = to
	r.History = append(r.History, StatusChange{Status: to, Actor: actor, ChangedAt: at, Notes: notes})
	if to == StatusCompleted {
		r.CompletedAt = &at
	}
}

type Filter struct {
	Status     Status
	Priority   blood.Priority
	BloodGroup blood.Group
	City       string
	HospitalID *uuid.UUID
}
