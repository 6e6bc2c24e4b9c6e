package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodbank/bloodbank/internal/config"
	"github.com/bloodbank/bloodbank/internal/platform/db"
	"github.com/bloodbank/bloodbank/migrations"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Port:            "0",
		Env:             "development",
		Store:           config.StoreMemory,
		CenterDirectory: config.DirectoryMemory,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		SweepInterval:   15 * time.Minute,
	}
}

func testServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	svc, err := newServices(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newServices: %v", err)
	}
	t.Cleanup(svc.Close)
	return newServer(cfg, zerolog.Nop(), svc)
}

func serve(h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	h := testServer(t, memoryConfig())

	for _, path := range []string{"/health", "/health/db"} {
		rec := serve(h, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestServer_SetsRequestID(t *testing.T) {
	h := testServer(t, memoryConfig())

	rec := serve(h, http.MethodGet, "/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}

func TestServer_DevAuthEnforcesRoles(t *testing.T) {
	h := testServer(t, memoryConfig())

	rec := serve(h, http.MethodGet, "/api/v1/inventory/units", map[string]string{"X-Dev-Roles": "donor"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for donor role, got %d", rec.Code)
	}

	rec = serve(h, http.MethodGet, "/api/v1/inventory/units", map[string]string{"X-Dev-Roles": "hospital"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for hospital role, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_JWTModeRequiresToken(t *testing.T) {
	cfg := memoryConfig()
	cfg.AuthSigningKey = strings.Repeat("k", 32)
	h := testServer(t, cfg)

	rec := serve(h, http.MethodGet, "/api/v1/requests", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}

	rec = serve(h, http.MethodGet, "/api/v1/public/requests/emergency", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected public emergency list without a token, got %d", rec.Code)
	}
}

func TestServer_MemoryCentersFromSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "centers.json")
	body := `[{"name": "Kollam District Blood Bank", "city": "Kollam", "latitude": 8.8932, "longitude": 76.6141, "verified": true}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := memoryConfig()
	cfg.CenterSeedFile = path
	h := testServer(t, cfg)

	rec := serve(h, http.MethodGet, "/api/v1/centers", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Kollam District Blood Bank") {
		t.Errorf("expected the seeded center, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNewServices_BadSeedFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.CenterSeedFile = filepath.Join(t.TempDir(), "missing.json")
	if _, err := newServices(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Error("expected an error for a missing seed file")
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	h := testServer(t, memoryConfig())

	rec := serve(h, http.MethodGet, "/api/v1/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestServices_SweepOnce(t *testing.T) {
	svc, err := newServices(context.Background(), memoryConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("newServices: %v", err)
	}
	defer svc.Close()

	counts, err := svc.sweeper(time.Minute, zerolog.Nop()).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if counts["units"] != 0 || counts["requests"] != 0 {
		t.Errorf("expected nothing to expire on empty stores, got %v", counts)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migs, err := db.NewMigrator(nil, migrationFiles("")).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migs) == 0 || migs[0].Version != 1 {
		t.Fatalf("expected the blood bank schema as version 1, got %+v", migs)
	}
	for _, table := range []string{"blood_unit", "blood_request", "donor", "donation", "blood_center", "blood_request_number_seq"} {
		if !strings.Contains(migs[0].SQL, table) {
			t.Errorf("schema does not mention %s", table)
		}
	}
	if _, err := migrations.FS.ReadFile("001_blood_bank.sql"); err != nil {
		t.Errorf("embedded file missing: %v", err)
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_blood_bank.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})

	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2024-03-01 10:00:00") {
		t.Errorf("missing applied row:\n%s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("missing pending row:\n%s", out)
	}
}
