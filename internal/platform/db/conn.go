package db

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const DBConnKey contextKey = "db_conn"

// ConnMiddleware pins one pooled connection to each request so that every
// repository call made while serving it shares the same session. The
// statement timeout is applied to the session before the handler runs.
func ConnMiddleware(pool *pgxpool.Pool, statementTimeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if statementTimeout > 0 {
				if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", statementTimeout.Milliseconds())); err != nil {
					return echo.NewHTTPError(http.StatusInternalServerError, "database session setup failed")
				}
			}

			c.SetRequest(c.Request().WithContext(WithConn(ctx, conn)))
			return next(c)
		}
	}
}

// WithConn returns a copy of ctx carrying conn. Work done with the returned
// context must not run concurrently.
func WithConn(ctx context.Context, conn *pgxpool.Conn) context.Context {
	return context.WithValue(ctx, DBConnKey, conn)
}

// ConnFromContext retrieves the request-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}
