package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

func TestReserve_Success(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.APos, 5, testNow)
	req := uuid.New()

	tok, err := r.Reserve(context.Background(), u.ID, 3, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Quantity != 3 || tok.RequestID != req || tok.UnitID != u.ID {
		t.Errorf("unexpected token: %+v", tok)
	}

	got, _ := l.GetUnit(context.Background(), u.ID)
	if got.Available != 2 || got.Reserved != 3 {
		t.Errorf("expected available=2 reserved=3, got %d/%d", got.Available, got.Reserved)
	}
	if len(got.Holds) != 1 || got.Holds[0].Token != tok.Token {
		t.Errorf("expected one hold with the token, got %+v", got.Holds)
	}
	if got.Status != StatusAvailable {
		t.Errorf("partially reserved unit should stay Available, got %s", got.Status)
	}
}

func TestReserve_Insufficient(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.APos, 2, testNow)

	_, err := r.Reserve(context.Background(), u.ID, 3, uuid.New())
	var ins *blood.InsufficientUnitsError
	if !errors.As(err, &ins) {
		t.Fatalf("expected InsufficientUnitsError, got %v", err)
	}
	if ins.Available != 2 || ins.Requested != 3 {
		t.Errorf("expected available 2 requested 3, got %d/%d", ins.Available, ins.Requested)
	}
}

func TestReserve_NotInStock(t *testing.T) {
	l, r, _ := newTestLedger()
	u, _ := l.RecordCollection(context.Background(), Collection{
		CenterID: uuid.New(), BloodGroup: blood.APos, ComponentType: blood.PackedRBC, Quantity: 1,
	})
	_, err := r.Reserve(context.Background(), u.ID, 1, uuid.New())
	var it *blood.InvalidTransitionError
	if !errors.As(err, &it) {
		t.Errorf("expected InvalidTransitionError for untested unit, got %v", err)
	}
}

func TestReserveRelease_RoundTrip(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.OPos, 4, testNow)

	if _, err := r.Reserve(context.Background(), u.ID, 4, uuid.New()); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	mid, _ := l.GetUnit(context.Background(), u.ID)
	if mid.Status != StatusReserved {
		t.Errorf("fully reserved unit should be Reserved, got %s", mid.Status)
	}

	got, err := r.Release(context.Background(), u.ID, 4)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got.Available != u.Available || got.Reserved != u.Reserved {
		t.Errorf("expected %d/%d after round trip, got %d/%d", u.Available, u.Reserved, got.Available, got.Reserved)
	}
	if got.Status != StatusAvailable {
		t.Errorf("expected Available after release, got %s", got.Status)
	}
	if len(got.Holds) != 0 {
		t.Errorf("expected no holds, got %d", len(got.Holds))
	}
}

func TestRelease_OverRelease(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.OPos, 4, testNow)
	r.Reserve(context.Background(), u.ID, 1, uuid.New())

	_, err := r.Release(context.Background(), u.ID, 2)
	var ore *blood.OverReleaseError
	if !errors.As(err, &ore) {
		t.Fatalf("expected OverReleaseError, got %v", err)
	}
	if ore.Reserved != 1 {
		t.Errorf("expected reserved 1 in error, got %d", ore.Reserved)
	}
}

func TestReleaseRequest_OnlyOwnHolds(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.OPos, 5, testNow)
	mine, theirs := uuid.New(), uuid.New()
	r.Reserve(context.Background(), u.ID, 2, mine)
	r.Reserve(context.Background(), u.ID, 1, theirs)
	r.Reserve(context.Background(), u.ID, 1, mine)

	released, err := r.ReleaseRequest(context.Background(), u.ID, mine)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released != 3 {
		t.Errorf("expected 3 released, got %d", released)
	}
	got, _ := l.GetUnit(context.Background(), u.ID)
	if got.Reserved != 1 || got.Available != 4 {
		t.Errorf("expected reserved=1 available=4, got %d/%d", got.Reserved, got.Available)
	}
	if len(got.Holds) != 1 || got.Holds[0].RequestID != theirs {
		t.Errorf("expected only the other request's hold to remain, got %+v", got.Holds)
	}
}

func TestReleaseHold_ByToken(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.OPos, 5, testNow)
	req := uuid.New()
	first, _ := r.Reserve(context.Background(), u.ID, 2, req)
	r.Reserve(context.Background(), u.ID, 1, req)

	n, err := r.ReleaseHold(context.Background(), u.ID, first.Token)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 released, got %d (%v)", n, err)
	}
	got, _ := l.GetUnit(context.Background(), u.ID)
	if got.Reserved != 1 || got.Available != 4 || len(got.Holds) != 1 {
		t.Errorf("expected reserved=1 available=4 one hold, got %d/%d %d", got.Reserved, got.Available, len(got.Holds))
	}

	n, err = r.ReleaseHold(context.Background(), u.ID, first.Token)
	if err != nil || n != 0 {
		t.Errorf("releasing a spent token should be a no-op, got %d (%v)", n, err)
	}
}

func TestConsume_Scenario(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.BPos, 2, testNow)
	if u.Status != StatusAvailable || u.Available != 2 {
		t.Fatalf("expected Available(2), got %s(%d)", u.Status, u.Available)
	}

	req := uuid.New()
	if _, err := r.Reserve(context.Background(), u.ID, 2, req); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	got, _ := l.GetUnit(context.Background(), u.ID)
	if got.Available != 0 || got.Reserved != 2 {
		t.Fatalf("expected available=0 reserved=2, got %d/%d", got.Available, got.Reserved)
	}

	got, err := r.Consume(context.Background(), u.ID, 2, req, "Anita Nair", "nurse-1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.Reserved != 0 || got.Status != StatusTransfused {
		t.Errorf("expected reserved=0 Transfused, got %d %s", got.Reserved, got.Status)
	}
	if got.Used != 2 {
		t.Errorf("expected used 2, got %d", got.Used)
	}
	if len(got.Usage) != 1 || got.Usage[0].PatientName != "Anita Nair" || got.Usage[0].RequestID != req {
		t.Errorf("unexpected usage history: %+v", got.Usage)
	}
}

func TestConsume_PartialKeepsUnitOpen(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.BPos, 3, testNow)
	req := uuid.New()
	r.Reserve(context.Background(), u.ID, 3, req)

	got, err := r.Consume(context.Background(), u.ID, 1, req, "P", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusReserved || got.Reserved != 2 {
		t.Errorf("expected Reserved with 2 held, got %s/%d", got.Status, got.Reserved)
	}
}

func TestConsume_OverConsume(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.BPos, 3, testNow)
	req := uuid.New()
	r.Reserve(context.Background(), u.ID, 1, req)

	_, err := r.Consume(context.Background(), u.ID, 2, req, "P", "")
	var oce *blood.OverConsumeError
	if !errors.As(err, &oce) {
		t.Fatalf("expected OverConsumeError, got %v", err)
	}
	got, _ := l.GetUnit(context.Background(), u.ID)
	if got.Reserved != 1 {
		t.Errorf("failed consume must not change counters, got reserved=%d", got.Reserved)
	}
}

func TestConsume_NeverDrawsOnAnotherRequest(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.BPos, 4, testNow)
	mine, theirs := uuid.New(), uuid.New()
	r.Reserve(context.Background(), u.ID, 1, mine)
	r.Reserve(context.Background(), u.ID, 2, theirs)

	_, err := r.Consume(context.Background(), u.ID, 2, mine, "P", "")
	var oce *blood.OverConsumeError
	if !errors.As(err, &oce) {
		t.Fatalf("expected OverConsumeError, got %v", err)
	}
	if oce.Reserved != 1 {
		t.Errorf("expected the caller's own hold (1) in the error, got %d", oce.Reserved)
	}
	got, _ := l.GetUnit(context.Background(), u.ID)
	if got.Reserved != 3 || got.HeldBy(theirs) != 2 {
		t.Errorf("the other request's hold must be intact, got reserved=%d theirs=%d", got.Reserved, got.HeldBy(theirs))
	}

	if _, err := r.Consume(context.Background(), u.ID, 1, uuid.New(), "P", ""); !errors.As(err, &oce) {
		t.Errorf("a request without holds must not consume, got %v", err)
	}
}

func TestIsUnusable(t *testing.T) {
	l, r, clock := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.BPos, 1, testNow.Add(-34*24*time.Hour))
	req := uuid.New()
	r.Reserve(context.Background(), u.ID, 1, req)

	if _, err := r.Consume(context.Background(), u.ID, 2, req, "P", ""); IsUnusable(err) {
		t.Errorf("over-consume is not an unusable unit: %v", err)
	}
	clock.t = testNow.Add(48 * time.Hour)
	if _, err := r.Consume(context.Background(), u.ID, 1, req, "P", ""); !IsUnusable(err) {
		t.Errorf("expected an expired unit to be unusable, got %v", err)
	}
}

func TestConsume_ExpiredRejected(t *testing.T) {
	l, r, clock := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.BPos, 1, testNow.Add(-34*24*time.Hour))
	req := uuid.New()
	r.Reserve(context.Background(), u.ID, 1, req)

	clock.t = testNow.Add(48 * time.Hour)
	_, err := r.Consume(context.Background(), u.ID, 1, req, "P", "")
	var it *blood.InvalidTransitionError
	if !errors.As(err, &it) {
		t.Errorf("expected InvalidTransitionError for expired unit, got %v", err)
	}
}

func TestReserve_Concurrent(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.ABNeg, 5, testNow)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = r.Reserve(context.Background(), u.ID, 3, uuid.New())
		}(i)
	}
	close(start)
	wg.Wait()

	successes, insufficient := 0, 0
	for _, err := range errs {
		var ins *blood.InsufficientUnitsError
		switch {
		case err == nil:
			successes++
		case errors.As(err, &ins):
			insufficient++
			if ins.Available != 2 {
				t.Errorf("loser should see available 2, got %d", ins.Available)
			}
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 || insufficient != 1 {
		t.Errorf("expected one success and one InsufficientUnitsError, got %d/%d", successes, insufficient)
	}

	got, _ := l.GetUnit(context.Background(), u.ID)
	if got.Available != 2 || got.Reserved != 3 {
		t.Errorf("expected available=2 reserved=3, got %d/%d", got.Available, got.Reserved)
	}
}

func TestReserve_ManyConcurrentNeverOversell(t *testing.T) {
	l, r, _ := newTestLedger()
	u := availableUnit(t, l, uuid.New(), blood.OPos, 10, testNow)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Reserve(context.Background(), u.ID, 1, uuid.New()); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Errorf("expected exactly 10 grants, got %d", granted)
	}
	got, _ := l.GetUnit(context.Background(), u.ID)
	if got.Available+got.Reserved > got.Collected || got.Available < 0 {
		t.Errorf("counter invariant broken: available=%d reserved=%d collected=%d", got.Available, got.Reserved, got.Collected)
	}
}
