package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	DirectoryPostgres = "postgres"
	DirectoryDynamoDB = "dynamodb"
	DirectoryMemory   = "memory"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	Store             string        `mapstructure:"STORE"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	CenterDirectory   string        `mapstructure:"CENTER_DIRECTORY"`
	CenterSeedFile    string        `mapstructure:"CENTER_SEED_FILE"`
	DynamoCenterTable string        `mapstructure:"DYNAMODB_CENTER_TABLE"`
	AWSRegion         string        `mapstructure:"AWS_REGION"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL       string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
}

var keys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CENTER_DIRECTORY", "CENTER_SEED_FILE", "DYNAMODB_CENTER_TABLE", "AWS_REGION",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "SWEEP_INTERVAL",
}

func Load() (*Config, error) {
	// A missing .env is fine; the process environment wins over the file.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DYNAMODB_CENTER_TABLE", "blood_centers")
	v.SetDefault("AWS_REGION", "ap-south-1")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SWEEP_INTERVAL", "15m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.Store = strings.ToLower(cfg.Store)
	cfg.CenterDirectory = strings.ToLower(cfg.CenterDirectory)
	if cfg.CenterDirectory == "" {
		cfg.CenterDirectory = DirectoryPostgres
		if cfg.Store == StoreMemory {
			cfg.CenterDirectory = DirectoryMemory
		}
	}

	if cfg.UsesPostgres() && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in development mode: DevAuthMiddleware grants admin to every request")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesPostgres reports whether the services need the database pool.
func (c *Config) UsesPostgres() bool {
	return c.Store == StorePostgres
}

// Validate checks that the configuration is safe to run. Outside development
// a bearer token must be verifiable, either with a shared signing key or a
// JWKS endpoint.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store)
	}
	switch c.CenterDirectory {
	case DirectoryPostgres:
		if c.Store == StoreMemory {
			return fmt.Errorf("CENTER_DIRECTORY=%s needs STORE=%s", DirectoryPostgres, StorePostgres)
		}
	case DirectoryDynamoDB:
		if c.DynamoCenterTable == "" {
			return fmt.Errorf("DYNAMODB_CENTER_TABLE is required when CENTER_DIRECTORY is %q", DirectoryDynamoDB)
		}
		if c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required when CENTER_DIRECTORY is %q", DirectoryDynamoDB)
		}
	case DirectoryMemory:
		if c.IsProduction() {
			return fmt.Errorf("CENTER_DIRECTORY=%s is not allowed in production", DirectoryMemory)
		}
	default:
		return fmt.Errorf("CENTER_DIRECTORY must be %q, %q or %q, got %q",
			DirectoryPostgres, DirectoryDynamoDB, DirectoryMemory, c.CenterDirectory)
	}
	if c.CenterSeedFile != "" && c.CenterDirectory != DirectoryMemory {
		return fmt.Errorf("CENTER_SEED_FILE only applies to CENTER_DIRECTORY=%s", DirectoryMemory)
	}

	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}
	if c.IsProduction() && c.Store == StoreMemory {
		return fmt.Errorf("STORE=%s is not allowed in production", StoreMemory)
	}
	if c.SweepInterval < time.Minute {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1m, got %s", c.SweepInterval)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
