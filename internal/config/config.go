package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const minJWTSecretLength = 32

// Config is the root configuration of the API process.
// Values come from defaults, then an optional YAML file, then TIMEOFF_* environment variables.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	RateBurst      int           `yaml:"rate_burst"`
	RatePerSecond  int           `yaml:"rate_per_second"`
	AllowedOrigins []string      `yaml:"allowed_origins"`

	// TrustedProxies are CIDRs or addresses whose X-Forwarded-For is believed.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// GRPCConfig contains the optional gRPC health listener. Empty Addr disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig contains PostgreSQL settings. Empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuthConfig contains token and session settings.
type AuthConfig struct {
	Issuer       string        `yaml:"issuer"`
	ActiveKeyID  string        `yaml:"active_key_id"`
	Secret       string        `yaml:"secret"`
	RetiredKeys  []KeyConfig   `yaml:"retired_keys"`
	AccessTTL    time.Duration `yaml:"access_ttl"`
	RefreshTTL   time.Duration `yaml:"refresh_ttl"`
	InviteTTL    time.Duration `yaml:"invite_ttl"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
	Leeway       time.Duration `yaml:"leeway"`

	// RevokeOnAllowanceChange forces re-authentication of an account whose allowance was edited.
	RevokeOnAllowanceChange bool `yaml:"revoke_on_allowance_change"`
}

// KeyConfig is a signing key that is still accepted for verification.
type KeyConfig struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from path (optional) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:          ":8080",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  15 * time.Second,
			IdleTimeout:   60 * time.Second,
			MaxBodyBytes:  1 << 20,
			RateBurst:     20,
			RatePerSecond: 10,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:       "timeoff-manager",
			ActiveKeyID:  "primary",
			AccessTTL:    15 * time.Minute,
			RefreshTTL:   14 * 24 * time.Hour,
			InviteTTL:    7 * 24 * time.Hour,
			StoreTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TIMEOFF_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("TIMEOFF_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("TIMEOFF_PG_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TIMEOFF_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TIMEOFF_TRUSTED_PROXIES"); v != "" {
		cfg.HTTP.TrustedProxies = strings.Split(v, ",")
	}
	// always override the secret in production
	if v := os.Getenv("TIMEOFF_JWT_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, "http.addr is required")
	}
	for _, p := range c.HTTP.TrustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Sprintf("http.trusted_proxies: %q is not an address or CIDR", p))
		}
	}
	if c.Auth.Secret == "" {
		errs = append(errs, "auth.secret is required (set TIMEOFF_JWT_SECRET)")
	} else if len(c.Auth.Secret) < minJWTSecretLength {
		errs = append(errs, "auth.secret must be at least 32 characters")
	}
	if strings.TrimSpace(c.Auth.ActiveKeyID) == "" {
		errs = append(errs, "auth.active_key_id is required")
	}
	for _, k := range c.Auth.RetiredKeys {
		if k.ID == "" || k.ID == c.Auth.ActiveKeyID {
			errs = append(errs, "auth.retired_keys entries need a unique id")
		}
		if len(k.Secret) < minJWTSecretLength {
			errs = append(errs, fmt.Sprintf("auth.retired_keys[%s].secret must be at least 32 characters", k.ID))
		}
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.InviteTTL <= 0 {
		errs = append(errs, "auth ttl values must be positive")
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		errs = append(errs, "auth.refresh_ttl must exceed auth.access_ttl")
	}
	if c.Auth.StoreTimeout <= 0 {
		errs = append(errs, "auth.store_timeout must be positive")
	}
	if c.Auth.Leeway < 0 {
		errs = append(errs, "auth.leeway must not be negative")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}
	return nil
}

// Keys returns every verification key indexed by key id, the active one included.
func (a AuthConfig) Keys() map[string]string {
	keys := make(map[string]string, len(a.RetiredKeys)+1)
	for _, k := range a.RetiredKeys {
		keys[k.ID] = k.Secret
	}
	keys[a.ActiveKeyID] = a.Secret
	return keys
}
