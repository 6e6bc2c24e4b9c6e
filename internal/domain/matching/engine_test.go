package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
	"github.com/bloodbank/bloodbank/internal/domain/center"
	"github.com/bloodbank/bloodbank/internal/domain/inventory"
	"github.com/bloodbank/bloodbank/pkg/geo"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ledger *inventory.Ledger
	dir    *center.MemoryDirectory
	engine *Engine
	kollam center.Center
	tvm    center.Center
	camp   center.Center
}

func newFixture() *fixture {
	ledger := inventory.NewLedger(inventory.NewUnitRepoMemory(), zerolog.Nop())
	ledger.SetClock(func() time.Time { return testNow })
	f := &fixture{
		ledger: ledger,
		kollam: center.Center{ID: uuid.New(), Name: "Kollam District", City: "Kollam", Latitude: 8.8932, Longitude: 76.6141, Verified: true},
		tvm:    center.Center{ID: uuid.New(), Name: "Trivandrum Medical", City: "Thiruvananthapuram", Latitude: 8.5241, Longitude: 76.9366, Verified: true},
		camp:   center.Center{ID: uuid.New(), Name: "Kollam Camp", City: "Kollam", Latitude: 8.88, Longitude: 76.6},
	}
	f.dir = center.NewMemoryDirectory(f.kollam, f.tvm, f.camp)
	f.engine = NewEngine(ledger, f.dir)
	f.engine.SetClock(func() time.Time { return testNow })
	return f
}

func (f *fixture) stock(t *testing.T, ctr center.Center, g blood.Group, c blood.Component, qty int, collectedAt time.Time) *inventory.BloodUnit {
	t.Helper()
	u, err := f.ledger.RecordCollection(context.Background(), inventory.Collection{
		CenterID: ctr.ID, BloodGroup: g, ComponentType: c, Quantity: qty, CollectedAt: collectedAt,
	})
	if err != nil {
		t.Fatalf("RecordCollection: %v", err)
	}
	u, err = f.ledger.RecordTestResult(context.Background(), u.ID, inventory.NegativePanel(), true)
	if err != nil {
		t.Fatalf("RecordTestResult: %v", err)
	}
	return u
}

func TestFindCandidates_SortOrders(t *testing.T) {
	f := newFixture()
	old := f.stock(t, f.kollam, blood.APos, blood.PackedRBC, 1, testNow.AddDate(0, 0, -20))
	fresh := f.stock(t, f.kollam, blood.APos, blood.PackedRBC, 1, testNow.AddDate(0, 0, -2))
	mid := f.stock(t, f.kollam, blood.APos, blood.PackedRBC, 1, testNow.AddDate(0, 0, -10))
	f.stock(t, f.tvm, blood.APos, blood.PackedRBC, 5, testNow)

	got, err := f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.APos, ComponentType: blood.PackedRBC})
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 centers, got %d", len(got))
	}
	if got[0].Center.ID != f.tvm.ID || got[0].TotalAvailable != 5 {
		t.Errorf("expected the center with 5 units first, got %s (%d)", got[0].Center.Name, got[0].TotalAvailable)
	}
	units := got[1].Units
	if len(units) != 3 || units[0].ID != old.ID || units[1].ID != mid.ID || units[2].ID != fresh.ID {
		t.Errorf("expected units oldest expiry first")
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].TotalAvailable < got[i].TotalAvailable {
			t.Errorf("centers not sorted by total descending")
		}
	}
}

func TestFindCandidates_Distance(t *testing.T) {
	f := newFixture()
	f.stock(t, f.tvm, blood.OPos, blood.PackedRBC, 2, testNow)
	origin := &geo.Point{Lat: 8.8932, Lng: 76.6141}

	got, _ := f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.OPos, Origin: origin, MaxDistanceKm: 50})
	if len(got) != 0 {
		t.Errorf("expected the Trivandrum center excluded at 50 km, got %d results", len(got))
	}

	got, _ = f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.OPos, Origin: origin, MaxDistanceKm: 60})
	if len(got) != 1 {
		t.Fatalf("expected the Trivandrum center included at 60 km, got %d results", len(got))
	}
	if got[0].DistanceKm == nil || *got[0].DistanceKm < 50 || *got[0].DistanceKm > 60 {
		t.Errorf("unexpected distance %v", got[0].DistanceKm)
	}
}

func TestFindCandidates_VerifiedAndCity(t *testing.T) {
	f := newFixture()
	f.stock(t, f.camp, blood.BNeg, blood.Platelets, 3, testNow)
	f.stock(t, f.kollam, blood.BNeg, blood.Platelets, 1, testNow)
	f.stock(t, f.tvm, blood.BNeg, blood.Platelets, 1, testNow)

	got, _ := f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.BNeg, VerifiedOnly: true, City: "kollam"})
	if len(got) != 1 || got[0].Center.ID != f.kollam.ID {
		t.Errorf("expected only the verified Kollam center, got %+v", got)
	}

	got, _ = f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.BNeg, City: "Kollam"})
	if len(got) != 2 || got[0].Center.ID != f.camp.ID {
		t.Errorf("expected both Kollam centers with the camp first, got %d", len(got))
	}
}

func TestFindCandidates_MinQuantityAndPartial(t *testing.T) {
	f := newFixture()
	f.stock(t, f.kollam, blood.ABPos, blood.Plasma, 2, testNow)
	f.stock(t, f.tvm, blood.ABPos, blood.Plasma, 3, testNow)

	got, _ := f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.ABPos, MinQuantity: 3})
	if len(got) != 1 || got[0].Center.ID != f.tvm.ID {
		t.Errorf("expected only the center with 3 units, got %d", len(got))
	}

	got, _ = f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.ABPos, MinQuantity: 4, AllowPartial: true})
	if len(got) != 2 {
		t.Errorf("expected both centers with partial fulfilment, got %d", len(got))
	}
}

func TestFindCandidates_SkipsUnusableStock(t *testing.T) {
	f := newFixture()
	f.stock(t, f.kollam, blood.OPos, blood.Platelets, 1, testNow.AddDate(0, 0, -6))
	f.ledger.RecordCollection(context.Background(), inventory.Collection{
		CenterID: f.kollam.ID, BloodGroup: blood.OPos, ComponentType: blood.Platelets, Quantity: 1,
	})

	got, _ := f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.OPos, ComponentType: blood.Platelets})
	if len(got) != 0 {
		t.Errorf("expired and untested units must not match, got %+v", got)
	}
}

func TestFindCandidates_Compatible(t *testing.T) {
	f := newFixture()
	exact := f.stock(t, f.kollam, blood.APos, blood.PackedRBC, 1, testNow)
	sub := f.stock(t, f.kollam, blood.ONeg, blood.PackedRBC, 1, testNow.AddDate(0, 0, -10))
	f.stock(t, f.kollam, blood.BPos, blood.PackedRBC, 1, testNow)

	got, _ := f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.APos})
	if len(got) != 1 || got[0].TotalAvailable != 1 {
		t.Fatalf("expected exact group only by default, got %+v", got)
	}

	got, _ = f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.APos, IncludeCompatible: true})
	if len(got) != 1 || got[0].TotalAvailable != 2 {
		t.Fatalf("expected A+ and O- units, got %+v", got)
	}
	if got[0].Units[0].ID != exact.ID || got[0].Units[1].ID != sub.ID {
		t.Errorf("expected the exact group ranked before the substitute")
	}
}

func TestFindCandidates_Validation(t *testing.T) {
	f := newFixture()
	_, err := f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: "Z+"})
	var ve *blood.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestFindCandidates_ReadOnly(t *testing.T) {
	f := newFixture()
	u := f.stock(t, f.kollam, blood.APos, blood.PackedRBC, 2, testNow)
	f.engine.FindCandidates(context.Background(), Criteria{BloodGroup: blood.APos})
	after, _ := f.ledger.GetUnit(context.Background(), u.ID)
	if after.Version != u.Version || after.Available != 2 || after.Reserved != 0 {
		t.Errorf("matching must not change units")
	}
}

func TestPlanAllocation(t *testing.T) {
	u1 := &inventory.BloodUnit{ID: uuid.New(), CenterID: uuid.New(), Available: 2}
	u2 := &inventory.BloodUnit{ID: uuid.New(), CenterID: uuid.New(), Available: 3}
	cands := []CenterAllocation{
		{TotalAvailable: 2, Units: []*inventory.BloodUnit{u1}},
		{TotalAvailable: 3, Units: []*inventory.BloodUnit{u2}},
	}

	picks, short := PlanAllocation(cands, 4)
	if short != 0 || len(picks) != 2 || picks[0].Quantity != 2 || picks[1].Quantity != 2 {
		t.Errorf("unexpected plan %+v short %d", picks, short)
	}

	picks, short = PlanAllocation(cands, 7)
	if short != 2 || len(picks) != 2 {
		t.Errorf("expected shortfall 2, got %d with %+v", short, picks)
	}

	picks, short = PlanAllocation(cands, 1)
	if short != 0 || len(picks) != 1 || picks[0].UnitID != u1.ID {
		t.Errorf("expected a single pick from the first unit, got %+v", picks)
	}
}
