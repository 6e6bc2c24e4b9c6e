package inventory

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

type Status string

const (
	StatusCollected  Status = "Collected"
	StatusTested     Status = "Tested"
	StatusAvailable  Status = "Available"
	StatusReserved   Status = "Reserved"
	StatusTransfused Status = "Transfused"
	StatusDiscarded  Status = "Discarded"
	StatusExpired    Status = "Expired"
)

func (s Status) Terminal() bool {
	return s == StatusTransfused || s == StatusDiscarded || s == StatusExpired
}

func ParseStatus(s string) (Status, error) {
	for _, v := range []Status{StatusCollected, StatusTested, StatusAvailable, StatusReserved,
		StatusTransfused, StatusDiscarded, StatusExpired} {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid unit status %q", s)
}

// PathogenPanel holds one result per screened pathogen. A nil entry means the
// test has not been reported yet.
type PathogenPanel struct {
	HIV        *bool `json:"hiv,omitempty"`
	HepatitisB *bool `json:"hepatitis_b,omitempty"`
	HepatitisC *bool `json:"hepatitis_c,omitempty"`
	Syphilis   *bool `json:"syphilis,omitempty"`
	Malaria    *bool `json:"malaria,omitempty"`
}

// NegativePanel is a complete panel with every pathogen tested negative.
func NegativePanel() PathogenPanel {
	no := func() *bool { b := false; return &b }
	return PathogenPanel{HIV: no(), HepatitisB: no(), HepatitisC: no(), Syphilis: no(), Malaria: no()}
}

func (p PathogenPanel) results() []*bool {
	return []*bool{p.HIV, p.HepatitisB, p.HepatitisC, p.Syphilis, p.Malaria}
}

func (p PathogenPanel) AnyPositive() bool {
	for _, r := range p.results() {
		if r != nil && *r {
			return true
		}
	}
	return false
}

func (p PathogenPanel) Complete() bool {
	for _, r := range p.results() {
		if r == nil {
			return false
		}
	}
	return true
}

// Merge overlays the reported results of next onto p.
func (p PathogenPanel) Merge(next PathogenPanel) PathogenPanel {
	pick := func(cur, reported *bool) *bool {
		if reported != nil {
			v := *reported
			return &v
		}
		return cur
	}
	return PathogenPanel{
		HIV:        pick(p.HIV, next.HIV),
		HepatitisB: pick(p.HepatitisB, next.HepatitisB),
		HepatitisC: pick(p.HepatitisC, next.HepatitisC),
		Syphilis:   pick(p.Syphilis, next.Syphilis),
		Malaria:    pick(p.Malaria, next.Malaria),
	}
}

// Hold is one active reservation against a unit.
type Hold struct {
	Token      uuid.UUID `json:"token"`
	RequestID  uuid.UUID `json:"request_id"`
	Quantity   int       `json:"quantity"`
	ReservedAt time.Time `json:"reserved_at"`
}

type UsageEntry struct {
	RequestID   uuid.UUID `json:"request_id"`
	PatientName string    `json:"patient_name"`
	Units       int       `json:"units"`
	UsedAt      time.Time `json:"used_at"`
	UsedBy      string    `json:"used_by,omitempty"`
}

// BloodUnit maps to the blood_unit table.
type BloodUnit struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	CenterID        uuid.UUID       `db:"center_id" json:"center_id"`
	BloodGroup      blood.Group     `db:"blood_group" json:"blood_group"`
	ComponentType   blood.Component `db:"component_type" json:"component_type"`
	CollectedAt     time.Time       `db:"collected_at" json:"collected_at"`
	ExpiresAt       time.Time       `db:"expires_at" json:"expires_at"`
	Collected       int             `db:"collected" json:"collected"`
	Available       int             `db:"available" json:"available"`
	Reserved        int             `db:"reserved" json:"reserved"`
	Used            int             `db:"used" json:"used"`
	Panel           PathogenPanel   `db:"pathogen_panel" json:"pathogen_panel"`
	GroupConfirmed  bool            `db:"group_confirmed" json:"group_confirmed"`
	Status          Status          `db:"status" json:"status"`
	Holds           []Hold          `db:"holds" json:"holds"`
	Usage           []UsageEntry    `db:"usage_history" json:"usage_history"`
	DonorID         *uuid.UUID      `db:"donor_id" json:"donor_id,omitempty"`
	DonationID      *uuid.UUID      `db:"donation_id" json:"donation_id,omitempty"`
	BatchNumber     *string         `db:"batch_number" json:"batch_number,omitempty"`
	StorageLocation *string         `db:"storage_location" json:"storage_location,omitempty"`
	Version         int             `db:"version" json:"version"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Clone returns a copy that shares no slices or pointers with u.
func (u *BloodUnit) Clone() *BloodUnit {
	c := *u
	c.Panel = PathogenPanel{}.Merge(u.Panel)
	c.Holds = append([]Hold(nil), u.Holds...)
	c.Usage = append([]UsageEntry(nil), u.Usage...)
	return &c
}

// HeldBy sums the holds owned by requestID.
func (u *BloodUnit) HeldBy(requestID uuid.UUID) int {
	n := 0
	for _, h := range u.Holds {
		if h.RequestID == requestID {
			n += h.Quantity
		}
	}
	return n
}

// CheckInvariants verifies the counter and safety rules every stored unit
// must satisfy.
func (u *BloodUnit) CheckInvariants() error {
	if u.Available < 0 || u.Reserved < 0 {
		return fmt.Errorf("unit %s: negative counter (available %d, reserved %d)", u.ID, u.Available, u.Reserved)
	}
	if u.Available+u.Reserved > u.Collected {
		return fmt.Errorf("unit %s: available %d + reserved %d exceeds collected %d", u.ID, u.Available, u.Reserved, u.Collected)
	}
	if u.Panel.AnyPositive() && (u.Status == StatusAvailable || u.Status == StatusReserved) {
		return fmt.Errorf("unit %s: positive pathogen result on a %s unit", u.ID, u.Status)
	}
	held := 0
	for _, h := range u.Holds {
		held += h.Quantity
	}
	if held != u.Reserved {
		return fmt.Errorf("unit %s: holds total %d but reserved is %d", u.ID, held, u.Reserved)
	}
	return nil
}

// DaysToExpiry rounds up so a unit expiring later today reports 1.
func (u *BloodUnit) DaysToExpiry(now time.Time) int {
	return int(math.Ceil(u.ExpiresAt.Sub(now).Hours() / 24))
}

// ExpiryStatus classifies a unit as expired, critical (7 days or less),
// warning (14 days or less) or safe.
func (u *BloodUnit) ExpiryStatus(now time.Time) string {
	days := u.DaysToExpiry(now)
	switch {
	case !u.ExpiresAt.After(now):
		return "expired"
	case days <= 7:
		return "critical"
	case days <= 14:
		return "warning"
	}
	return "safe"
}

// UnitFilter narrows unit listings. Zero values are ignored.
type UnitFilter struct {
	CenterID      *uuid.UUID
	BloodGroup    blood.Group
	ComponentType blood.Component
	Status        Status
}

// AvailabilityQuery selects usable stock: status Available, at least one
// unit free and not expired at Now.
type AvailabilityQuery struct {
	CenterIDs     []uuid.UUID
	Groups        []blood.Group
	ComponentType blood.Component
	Now           time.Time
	ExpiresBefore *time.Time
}

func (q AvailabilityQuery) Matches(u *BloodUnit) bool {
	if u.Status != StatusAvailable || u.Available < 1 || !u.ExpiresAt.After(q.Now) {
		return false
	}
	if q.ExpiresBefore != nil && !u.ExpiresAt.Before(*q.ExpiresBefore) {
		return false
	}
	if q.ComponentType != "" && u.ComponentType != q.ComponentType {
		return false
	}
	if len(q.Groups) > 0 && !containsGroup(q.Groups, u.BloodGroup) {
		return false
	}
	if len(q.CenterIDs) > 0 {
		found := false
		for _, id := range q.CenterIDs {
			if id == u.CenterID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsGroup(groups []blood.Group, g blood.Group) bool {
	for _, v := range groups {
		if v == g {
			return true
		}
	}
	return false
}
