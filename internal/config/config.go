// Package config loads application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/iliyamo/training-seat-pools/internal/database"
)

// Config holds all runtime configuration values.  Each leaf field maps to
// one environment variable; nested structs share the flat namespace.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"dev"`    // application environment (dev/test/prod)
	Port     string `env:"APP_PORT" envDefault:"8080"`  // HTTP port to listen on
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"` // zap level name

	DB        DBConfig
	JWT       JWTConfig
	AMQP      AMQPConfig
	Enroll    EnrollConfig
	Engine    EngineConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Redis     RedisConfig
}

// DBConfig selects the store.  DSN wins over the discrete MySQL settings.
type DBConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"mysql"` // mysql or sqlite
	DSN    string `env:"DB_DSN"`
	User   string `env:"DB_USER" envDefault:"root"`
	Pass   string `env:"DB_PASS"`
	Host   string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port   string `env:"DB_PORT" envDefault:"3306"`
	Name   string `env:"DB_NAME" envDefault:"seat_pools"`
}

// DataSource returns the DSN handed to the driver.
func (c DBConfig) DataSource() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Driver == database.DriverSQLite {
		return "file:seat_pools.db?_pragma=busy_timeout(5000)"
	}
	return database.MySQLDSN(c.User, c.Pass, c.Host, c.Port, c.Name)
}

// JWTConfig configures bearer token validation and service token minting.
type JWTConfig struct {
	Secret       string `env:"JWT_SECRET"`
	Issuer       string `env:"JWT_ISSUER" envDefault:"seat-pools"`
	AccessTTLMin int    `env:"ACCESS_TOKEN_TTL_MIN" envDefault:"15"` // access token time-to-live in minutes
}

// AccessTTL returns the token lifetime.
func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMin) * time.Minute
}

// AMQPConfig configures the event publisher and digest consumer.  An empty
// URL disables both.
type AMQPConfig struct {
	URL       string `env:"RABBITMQ_URL"`
	Queue     string `env:"SEAT_EVENTS_QUEUE" envDefault:"seat.events"`
	DigestLog string `env:"SEAT_EVENTS_LOG" envDefault:"logs/seat-events.log"`
}

// EnrollConfig points at the host platform enrollment API.  An empty base
// URL selects the no-op enroller.
type EnrollConfig struct {
	BaseURL string        `env:"ENROLL_BASE_URL"`
	Token   string        `env:"ENROLL_TOKEN"`
	Timeout time.Duration `env:"ENROLL_TIMEOUT" envDefault:"5s"`
}

var (
	ErrMissingJWTSecret = errors.New("missing required env var: JWT_SECRET")
	ErrUnknownDriver    = errors.New("DB_DRIVER must be mysql or sqlite")
)

// Load reads an optional .env file (or the given files) and parses the
// environment into a Config.  Variables already set in the process win over
// values from the files.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse(nil)
}

// Parse builds a Config from environ.  A nil map reads the process
// environment.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.RateLimit = cfg.RateLimit.normalize()
	return cfg, nil
}

// Validate checks settings every command depends on.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case database.DriverMySQL, database.DriverSQLite:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.DB.Driver)
	}
	return c.Engine.Validate()
}

// RequireJWT checks the settings the HTTP server and token command need.
func (c Config) RequireJWT() error {
	if c.JWT.Secret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}
