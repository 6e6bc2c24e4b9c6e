package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/bloodbank/bloodbank/internal/config"
	"github.com/bloodbank/bloodbank/internal/domain/center"
	"github.com/bloodbank/bloodbank/internal/domain/donation"
	"github.com/bloodbank/bloodbank/internal/domain/donor"
	"github.com/bloodbank/bloodbank/internal/domain/inventory"
	"github.com/bloodbank/bloodbank/internal/domain/matching"
	"github.com/bloodbank/bloodbank/internal/domain/request"
	"github.com/bloodbank/bloodbank/internal/platform/auth"
	"github.com/bloodbank/bloodbank/internal/platform/db"
	"github.com/bloodbank/bloodbank/internal/platform/middleware"
	"github.com/bloodbank/bloodbank/internal/platform/sweep"
)

const (
	version          = "0.1.0"
	requestTimeout   = 30 * time.Second
	statementTimeout = 15 * time.Second
	bodyLimit        = "1M"
)

// services is the wired domain layer shared by the HTTP server and the
// one-shot sweep command.
type services struct {
	pool      *pgxpool.Pool
	centers   center.Directory
	donors    *donor.Service
	ledger    *inventory.Ledger
	res       *inventory.Reservations
	engine    *matching.Engine
	workflow  *request.Workflow
	donations *donation.Service
}

func newServices(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*services, error) {
	s := &services{}

	var (
		unitRepo     inventory.UnitRepository
		donorRepo    donor.DonorRepository
		requestRepo  request.RequestRepository
		donationRepo donation.DonationRepository
	)
	if cfg.UsesPostgres() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			ApplicationName: "bloodbank-server",
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.pool = pool
		logger.Info().Msg("connected to database")

		unitRepo = inventory.NewUnitRepoPG(pool)
		donorRepo = donor.NewDonorRepoPG(pool)
		requestRepo = request.NewRequestRepoPG(pool)
		donationRepo = donation.NewDonationRepoPG(pool)
	} else {
		logger.Warn().Msg("using in-memory stores: data is lost on restart")
		unitRepo = inventory.NewUnitRepoMemory()
		donorRepo = donor.NewDonorRepoMemory()
		requestRepo = request.NewRequestRepoMemory()
		donationRepo = donation.NewDonationRepoMemory()
	}

	switch cfg.CenterDirectory {
	case config.DirectoryPostgres:
		s.centers = center.NewPGDirectory(s.pool)
	case config.DirectoryDynamoDB:
		client, err := center.NewDynamoClient(ctx, cfg.AWSRegion)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.centers = center.NewDynamoDirectory(client, cfg.DynamoCenterTable)
	default:
		if cfg.CenterSeedFile == "" {
			logger.Warn().Msg("in-memory center directory is empty: set CENTER_SEED_FILE to load centers")
			s.centers = center.NewMemoryDirectory()
			break
		}
		dir, err := center.LoadMemoryDirectory(cfg.CenterSeedFile)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.centers = dir
	}
	logger.Info().Str("directory", cfg.CenterDirectory).Msg("center directory ready")

	s.donors = donor.NewService(donorRepo, logger)
	s.ledger = inventory.NewLedger(unitRepo, logger)
	s.res = inventory.NewReservations(unitRepo, logger)
	s.engine = matching.NewEngine(s.ledger, s.centers)
	s.workflow = request.NewWorkflow(requestRepo, s.donors, s.engine, s.res, logger)
	s.donations = donation.NewService(donationRepo, s.donors, s.ledger, s.centers, logger)
	return s, nil
}

func (s *services) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *services) sweeper(interval time.Duration, logger zerolog.Logger) *sweep.Sweeper {
	return sweep.New(interval, logger,
		sweep.Task{Name: "units", Run: s.ledger.SweepExpired},
		sweep.Task{Name: "requests", Run: s.workflow.SweepExpired},
	)
}

// routeRegistrar is implemented by every domain handler.
type routeRegistrar interface {
	RegisterRoutes(api *echo.Group, public *echo.Group)
}

func newServer(cfg *config.Config, logger zerolog.Logger, svc *services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout))

	// Auth middleware
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthJWKSURL == "" {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	if svc.pool != nil {
		e.Use(db.ConnMiddleware(svc.pool, statementTimeout))
	}

	e.Use(middleware.Audit(logger))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if svc.pool != nil {
		e.GET("/health/db", db.HealthHandler(svc.pool))
	} else {
		e.GET("/health/db", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "memory"})
		})
	}

	handlers := []routeRegistrar{
		center.NewHandler(svc.centers),
		donor.NewHandler(svc.donors),
		donation.NewHandler(svc.donations),
		inventory.NewHandler(svc.ledger, svc.res),
		matching.NewHandler(svc.engine),
		request.NewHandler(svc.workflow),
	}
	for _, h := range handlers {
		h.RegisterRoutes(apiV1, nil)
	}
	return e
}

func runServer(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start services")
		return err
	}
	defer svc.Close()

	e := newServer(cfg, logger, svc)

	sweepCtx, stopSweep := context.WithCancel(context.WithoutCancel(ctx))
	sweepDone := make(chan error, 1)
	go func() {
		sweepDone <- svc.sweeper(cfg.SweepInterval, logger).Run(sweepCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error().Err(err).Msg("server error")
		stopSweep()
		<-sweepDone
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	stopSweep()
	<-sweepDone
	logger.Info().Msg("server stopped")
	return nil
}
