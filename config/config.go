package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/collapsinghierarchy/rewardgate/pkc/digest"
)

const (
	DriverPostgres = "postgres"
	DriverREST     = "rest"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port            string        `env:"PORT"             envDefault:"8080"`
	StoreDriver     string        `env:"STORE_DRIVER"     envDefault:"postgres"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	RESTURL         string        `env:"REST_URL"`
	RESTAPIKey      string        `env:"REST_API_KEY"`
	SQLitePath      string        `env:"SQLITE_PATH"      envDefault:"rewardgate.db"`
	AutoMigrate     bool          `env:"AUTO_MIGRATE"     envDefault:"false"`
	RewardLimit     int           `env:"REWARD_LIMIT"     envDefault:"50"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"  envDefault:"5s"`
	SessionTTL      time.Duration `env:"SESSION_TTL"      envDefault:"30m"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RateLimitMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"10"`
	DigestAlgo      string        `env:"DIGEST_ALGO"      envDefault:"sha256"`
	NATSURL         string        `env:"NATS_URL"`
	NATSSubject     string        `env:"NATS_SUBJECT"     envDefault:"rewardgate.claims.created"`
	CORSOrigins     []string      `env:"CORS_ORIGINS"     envSeparator:","`
	TrustedProxies  []string      `env:"TRUSTED_PROXIES"  envSeparator:","`
	MaxSessions     int           `env:"MAX_SESSIONS"     envDefault:"10000"`
	WebDir          string        `env:"WEB_DIR"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT"       envDefault:"console"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	return Parse()
}

// Parse reads the environment and validates the result.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverREST:
		if c.RESTURL == "" || c.RESTAPIKey == "" {
			errs = append(errs, errors.New("REST_URL and REST_API_KEY are required for the rest driver"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.RewardLimit <= 0 {
		errs = append(errs, fmt.Errorf("REWARD_LIMIT must be positive, got %d", c.RewardLimit))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.RateLimitBurst <= 0 || c.RateLimitMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST and RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, errors.New("MAX_SESSIONS must be positive"))
	}
	for _, o := range c.CORSOrigins {
		if strings.TrimSpace(o) == "*" {
			errs = append(errs, errors.New("CORS_ORIGINS must list origins explicitly, \"*\" is not allowed with credentials"))
		}
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := digest.New(digest.Algorithm(c.DigestAlgo)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TrustedProxyPrefixes parses TRUSTED_PROXIES. Entries are single
// addresses or CIDR ranges.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range c.TrustedProxies {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}
