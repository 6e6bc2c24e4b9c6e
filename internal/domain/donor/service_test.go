package donor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

func newTestService() *Service {
	s := NewService(NewDonorRepoMemory(), zerolog.Nop())
	s.SetClock(func() time.Time { return refNow })
	return s
}

func registered(t *testing.T, s *Service) *Donor {
	t.Helper()
	d := healthyDonor()
	if err := s.Register(context.Background(), d); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return d
}

func TestRegister_Validation(t *testing.T) {
	s := newTestService()
	tests := []struct {
		name  string
		donor *Donor
	}{
		{"missing name", &Donor{BloodGroup: blood.APos, Age: intPtr(30)}},
		{"bad group", &Donor{Name: "A", BloodGroup: "C+", Age: intPtr(30)}},
		{"no age", &Donor{Name: "A", BloodGroup: blood.APos}},
		{"future birth", &Donor{Name: "A", BloodGroup: blood.APos, DateOfBirth: timePtr(refNow.Add(time.Hour))}},
		{"negative weight", &Donor{Name: "A", BloodGroup: blood.APos, Age: intPtr(30), WeightKg: decPtr("-1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Register(context.Background(), tt.donor)
			var ve *blood.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRegister_ResetsDonationFields(t *testing.T) {
	s := newTestService()
	d := healthyDonor()
	d.TotalDonations = 9
	d.NextEligibleAt = timePtr(refNow.AddDate(1, 0, 0))
	if err := s.Register(context.Background(), d); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, _ := s.Get(context.Background(), d.ID)
	if got.TotalDonations != 0 || got.NextEligibleAt != nil {
		t.Errorf("donation fields must start empty, got %+v", got)
	}
}

func TestRecordDonation_UpdatesOnce(t *testing.T) {
	s := newTestService()
	d := registered(t, s)

	got, err := s.RecordDonation(context.Background(), d.ID, Donation{Units: 1})
	if err != nil {
		t.Fatalf("RecordDonation: %v", err)
	}
	if got.TotalDonations != 1 || got.TotalUnits != 1 {
		t.Errorf("expected counters 1/1, got %d/%d", got.TotalDonations, got.TotalUnits)
	}
	if !got.LastDonationAt.Equal(refNow) {
		t.Errorf("expected last donation at now, got %v", got.LastDonationAt)
	}
	if !got.NextEligibleAt.Equal(refNow.Add(DonationInterval)) {
		t.Errorf("expected next eligible +90d, got %v", got.NextEligibleAt)
	}

	_, err = s.RecordDonation(context.Background(), d.ID, Donation{Units: 1})
	var di *blood.DonorIneligibleError
	if !errors.As(err, &di) {
		t.Fatalf("expected DonorIneligibleError on second donation, got %v", err)
	}
	if len(di.Unmet) != 1 || di.Unmet[0] != CriterionCooldown {
		t.Errorf("expected cooldown unmet, got %v", di.Unmet)
	}
}

func TestRecordDonation_ConcurrentCountsOnce(t *testing.T) {
	s := newTestService()
	d := registered(t, s)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RecordDonation(context.Background(), d.ID, Donation{Units: 1}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("expected exactly one accepted donation, got %d", ok)
	}
	got, _ := s.Get(context.Background(), d.ID)
	if got.TotalDonations != 1 {
		t.Errorf("expected one donation counted, got %d", got.TotalDonations)
	}
}

func TestRecordDonation_ScreeningFailsCheck(t *testing.T) {
	s := newTestService()
	d := registered(t, s)

	_, err := s.RecordDonation(context.Background(), d.ID, Donation{
		Units:     1,
		Screening: &Screening{Hemoglobin: decPtr("11.0")},
	})
	var di *blood.DonorIneligibleError
	if !errors.As(err, &di) || di.Unmet[0] != CriterionHemoglobin {
		t.Fatalf("expected hemoglobin unmet, got %v", err)
	}
	got, _ := s.Get(context.Background(), d.ID)
	if got.TotalDonations != 0 || !got.Hemoglobin.Equal(decimal.RequireFromString("13.4")) {
		t.Errorf("rejected donation must not change the donor, got %+v", got)
	}
}

func TestRecordDonation_NeverMovesBackward(t *testing.T) {
	s := newTestService()
	d := registered(t, s)
	if _, err := s.RecordDonation(context.Background(), d.ID, Donation{Units: 1, At: refNow.AddDate(0, 0, -100)}); err != nil {
		t.Fatalf("RecordDonation: %v", err)
	}
	_, err := s.RecordDonation(context.Background(), d.ID, Donation{Units: 1, At: refNow.AddDate(0, 0, -200)})
	if err == nil {
		t.Fatal("expected an error for a donation dated before the last one")
	}
}

func TestRevertDonation_RestoresDonor(t *testing.T) {
	s := newTestService()
	d := registered(t, s)
	earlier := refNow.AddDate(0, 0, -120)
	if _, err := s.RecordDonation(context.Background(), d.ID, Donation{Units: 1, At: earlier}); err != nil {
		t.Fatalf("RecordDonation: %v", err)
	}
	prev, _ := s.Get(context.Background(), d.ID)

	don := Donation{Units: 2, At: refNow, Screening: &Screening{Hemoglobin: decPtr("14.1")}}
	if _, err := s.RecordDonation(context.Background(), d.ID, don); err != nil {
		t.Fatalf("RecordDonation: %v", err)
	}
	got, err := s.RevertDonation(context.Background(), d.ID, don, prev)
	if err != nil {
		t.Fatalf("RevertDonation: %v", err)
	}
	if got.TotalDonations != 1 || got.TotalUnits != 1 {
		t.Errorf("expected counters back to 1/1, got %d/%d", got.TotalDonations, got.TotalUnits)
	}
	if !got.LastDonationAt.Equal(earlier) || !got.NextEligibleAt.Equal(earlier.Add(DonationInterval)) {
		t.Errorf("expected the earlier donation dates, got %v / %v", got.LastDonationAt, got.NextEligibleAt)
	}
	if !got.Hemoglobin.Equal(decimal.RequireFromString("13.4")) {
		t.Errorf("expected screening values restored, got %s", got.Hemoglobin)
	}
	if !IsEligible(got, refNow) {
		t.Errorf("donor should be eligible again, unmet: %v", Evaluate(got, refNow))
	}
}

func TestRevertDonation_RefusedAfterLaterDonation(t *testing.T) {
	s := newTestService()
	d := registered(t, s)
	prev, _ := s.Get(context.Background(), d.ID)

	old := Donation{Units: 1, At: refNow.AddDate(0, 0, -100)}
	if _, err := s.RecordDonation(context.Background(), d.ID, old); err != nil {
		t.Fatalf("RecordDonation: %v", err)
	}
	if _, err := s.RecordDonation(context.Background(), d.ID, Donation{Units: 1, At: refNow}); err != nil {
		t.Fatalf("RecordDonation: %v", err)
	}

	_, err := s.RevertDonation(context.Background(), d.ID, old, prev)
	var ve *blood.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got, _ := s.Get(context.Background(), d.ID)
	if got.TotalDonations != 2 {
		t.Errorf("refused revert must not change counters, got %d", got.TotalDonations)
	}
}

func TestRecordDonation_NotFound(t *testing.T) {
	s := newTestService()
	_, err := s.RecordDonation(context.Background(), uuid.New(), Donation{Units: 1})
	if !blood.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestEligibilityReport(t *testing.T) {
	s := newTestService()
	d := registered(t, s)
	s.RecordDonation(context.Background(), d.ID, Donation{Units: 1, At: refNow.AddDate(0, 0, -80)})

	r, err := s.Eligibility(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Eligibility: %v", err)
	}
	if r.Eligible {
		t.Error("expected ineligible during cooldown")
	}
	if r.DaysUntil != 10 {
		t.Errorf("expected 10 days until eligible, got %d", r.DaysUntil)
	}
	if r.Age == nil || *r.Age != 30 {
		t.Errorf("expected age 30, got %v", r.Age)
	}
}
