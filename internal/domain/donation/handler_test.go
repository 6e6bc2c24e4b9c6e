package donation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

func TestHandler_RecordDonation(t *testing.T) {
	f := newFixture(t, nil)
	d := f.donor(t, blood.OPos)
	h := NewHandler(f.svc)
	e := echo.New()

	body := `{"donor_id":"` + d.ID.String() + `","center_id":"` + f.center.ID.String() + `","units":2,"weight_kg":"68.5","blood_pressure":"118/76","pulse":72}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.RecordDonation(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Donation
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.UnitsCollected != 2 || got.BloodGroup != blood.OPos {
		t.Errorf("unexpected donation: %+v", got)
	}
}

func TestHandler_RecordDonation_Ineligible(t *testing.T) {
	f := newFixture(t, nil)
	d := f.donor(t, blood.OPos)
	h := NewHandler(f.svc)
	e := echo.New()

	body := `{"donor_id":"` + d.ID.String() + `","center_id":"` + f.center.ID.String() + `","weight_kg":"38"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.RecordDonation(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %v", err)
	}
}

func TestHandler_ListDonations_BadFilter(t *testing.T) {
	f := newFixture(t, nil)
	h := NewHandler(f.svc)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?donor_id=nope", nil), httptest.NewRecorder())

	err := h.ListDonations(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
