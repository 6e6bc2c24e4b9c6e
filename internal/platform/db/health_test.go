package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheck_Healthy(t *testing.T) {
	report := Check(context.Background(), pingFunc(func(context.Context) error { return nil }))
	if report.Status != "healthy" {
		t.Errorf("expected healthy, got %s", report.Status)
	}
	if report.Error != "" {
		t.Errorf("expected no error, got %q", report.Error)
	}
}

func TestCheck_Unhealthy(t *testing.T) {
	report := Check(context.Background(), pingFunc(func(context.Context) error {
		return errors.New("connection refused")
	}))
	if report.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %s", report.Status)
	}
	if report.Error != "connection refused" {
		t.Errorf("unexpected error text %q", report.Error)
	}
}

func TestCheck_HasDeadline(t *testing.T) {
	Check(context.Background(), pingFunc(func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected ping context to carry a deadline")
		}
		return nil
	}))
}

func TestHealthReport_JSON(t *testing.T) {
	report := HealthReport{Status: "healthy", Latency: "1ms", Pool: &PoolStats{MaxConns: 20}}
	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["error"]; ok {
		t.Error("expected error to be omitted when empty")
	}
	pool, ok := m["pool"].(map[string]interface{})
	if !ok || pool["max_conns"] != float64(20) {
		t.Errorf("unexpected pool section: %v", m["pool"])
	}
}
