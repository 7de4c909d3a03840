// Package config loads application configuration from environment variables.
// A .env file in the working directory is read first when present; real
// environment variables always win over values from the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env            string // application environment (dev, test, prod)
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	StoreDriver    string // "sql" (database/sql repositories) or "gorm"
	JWTSecret      string // secret used to sign access tokens
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	// SweepInterval controls how often expired or revoked refresh tokens
	// are purged.
	SweepInterval time.Duration

	DrafterURL     string
	DrafterAPIKey  string
	DrafterModel   string
	DrafterTimeout time.Duration

	AMQPURL string // empty disables auth event publishing
}

// ErrMissingEnv is wrapped by Load for every required variable that is unset.
var ErrMissingEnv = errors.New("missing required env var")

// Load reads configuration values from the environment and returns a
// Config. All missing required variables are reported together.
func Load() (Config, error) {
	_ = godotenv.Load() // .env is optional

	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:            getenv("APP_ENV", "dev"),
		Port:           getenv("APP_PORT", "8080"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         getenv("DB_HOST", "127.0.0.1"),
		DBPort:         getenv("DB_PORT", "3306"),
		DBName:         must("DB_NAME"),
		StoreDriver:    strings.ToLower(getenv("STORE_DRIVER", "sql")),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   envInt("ACCESS_TOKEN_TTL_MIN", 24*60),
		RefreshTTLDays: envInt("REFRESH_TOKEN_TTL_DAYS", 7),
		BcryptCost:     envInt("BCRYPT_COST", 12),
		SweepInterval:  envDur("TOKEN_SWEEP_INTERVAL", time.Hour),
		DrafterURL:     getenv("DRAFTER_URL", "https://api.openai.com/v1/chat/completions"),
		DrafterAPIKey:  os.Getenv("DRAFTER_API_KEY"),
		DrafterModel:   getenv("DRAFTER_MODEL", "gpt-4o-mini"),
		DrafterTimeout: envDur("DRAFTER_TIMEOUT", 60*time.Second),
		AMQPURL:        firstNonEmpty(os.Getenv("RABBITMQ_URL"), os.Getenv("AMQP_URL")),
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.JWTSecret) < 32 && c.Env == "prod" {
		return errors.New("JWT_SECRET must be at least 32 characters in prod")
	}
	if c.AccessTTLMin <= 0 {
		return fmt.Errorf("invalid ACCESS_TOKEN_TTL_MIN: %d", c.AccessTTLMin)
	}
	if c.RefreshTTLDays <= 0 {
		return fmt.Errorf("invalid REFRESH_TOKEN_TTL_DAYS: %d", c.RefreshTTLDays)
	}
	if c.StoreDriver != "sql" && c.StoreDriver != "gorm" {
		return fmt.Errorf("invalid STORE_DRIVER: %q", c.StoreDriver)
	}
	return nil
}

// IsDev reports whether the service runs in the development environment.
func (c Config) IsDev() bool { return c.Env == "dev" }

// AccessTTL returns the access token lifetime.
func (c Config) AccessTTL() time.Duration { return time.Duration(c.AccessTTLMin) * time.Minute }

// RefreshTTL returns the refresh token lifetime.
func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// envInt is like getenv but parses the value as an integer, falling back to
// the default when the variable is unset or malformed.
func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}
