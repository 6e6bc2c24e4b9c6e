package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection pool snapshot reported by /health/db.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Pinger is the part of the pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the body of the database health endpoint.
type HealthReport struct {
	Status  string     `json:"status"`
	Latency string     `json:"latency"`
	Error   string     `json:"error,omitempty"`
	Pool    *PoolStats `json:"pool,omitempty"`
}

// Check pings the database with a five second budget.
func Check(ctx context.Context, p Pinger) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	report := HealthReport{Status: "healthy", Latency: time.Since(start).String()}
	if err != nil {
		report.Status = "unhealthy"
		report.Error = err.Error()
	}
	return report
}

// HealthHandler serves the database health check, including pool stats.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		report := Check(c.Request().Context(), pool)
		stats := GetPoolStats(pool)
		report.Pool = &stats
		if report.Status != "healthy" {
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		return c.JSON(http.StatusOK, report)
	}
}
