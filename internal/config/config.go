// Package config loads service settings from an optional TOML file and SUPERADMIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	envPrefix      = "SUPERADMIN_"
	fileEnvVar     = envPrefix + "CONFIG"
	minSecretBytes = 32
)

// Duration wraps time.Duration so TOML files can use "30m" style values.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the full runtime configuration.
type Config struct {
	Env      string `toml:"env"`
	HTTPAddr string `toml:"http_addr"`
	GRPCAddr string `toml:"grpc_addr"`
	LogLevel string `toml:"log_level"`

	PGDSN       string `toml:"pg_dsn"`
	AutoMigrate bool   `toml:"auto_migrate"`
	RedisURL    string `toml:"redis_url"`

	TokenSecret string   `toml:"token_secret"`
	TokenTTL    Duration `toml:"token_ttl"`
	Issuer      string   `toml:"issuer"`

	BcryptCost        int      `toml:"bcrypt_cost"`
	PasswordMinLength int      `toml:"password_min_length"`
	LockoutThreshold  int      `toml:"lockout_threshold"`
	LockoutWindow     Duration `toml:"lockout_window"`

	RateBurst       int      `toml:"rate_burst"`
	RatePerSecond   int      `toml:"rate_per_second"`
	LoginRateLimit  int      `toml:"login_rate_limit"`
	LoginRateWindow Duration `toml:"login_rate_window"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`

	BootstrapEmail    string `toml:"bootstrap_email"`
	BootstrapPassword string `toml:"bootstrap_password"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Env:               EnvDevelopment,
		HTTPAddr:          ":8080",
		GRPCAddr:          ":9090",
		LogLevel:          "info",
		TokenTTL:          Duration{24 * time.Hour},
		Issuer:            "qazna-superadmin",
		BcryptCost:        12,
		PasswordMinLength: 8,
		LockoutThreshold:  5,
		LockoutWindow:     Duration{30 * time.Minute},
		RateBurst:         50,
		RatePerSecond:     20,
		LoginRateLimit:    20,
		LoginRateWindow:   Duration{time.Minute},
		MaxBodyBytes:      1 << 20,
	}
}

// Load builds the configuration: defaults, then the TOML file named by
// SUPERADMIN_CONFIG (if any), then individual SUPERADMIN_* variables.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path, ok := lookup(fileEnvVar); ok && strings.TrimSpace(path) != "" {
		if _, err := toml.DecodeFile(strings.TrimSpace(path), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(envPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *Duration) {
		if v, ok := lookup(envPrefix + name); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", envPrefix, name, err))
			}
		}
	}

	str("ENV", &cfg.Env)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("GRPC_ADDR", &cfg.GRPCAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("PG_DSN", &cfg.PGDSN)
	str("REDIS_URL", &cfg.RedisURL)
	str("TOKEN_SECRET", &cfg.TokenSecret)
	str("ISSUER", &cfg.Issuer)
	str("BOOTSTRAP_EMAIL", &cfg.BootstrapEmail)
	str("BOOTSTRAP_PASSWORD", &cfg.BootstrapPassword)
	dur("TOKEN_TTL", &cfg.TokenTTL)
	dur("LOCKOUT_WINDOW", &cfg.LockoutWindow)
	dur("LOGIN_RATE_WINDOW", &cfg.LoginRateWindow)
	num("BCRYPT_COST", &cfg.BcryptCost)
	num("PASSWORD_MIN_LENGTH", &cfg.PasswordMinLength)
	num("LOCKOUT_THRESHOLD", &cfg.LockoutThreshold)
	num("RATE_BURST", &cfg.RateBurst)
	num("RATE_PER_SECOND", &cfg.RatePerSecond)
	num("LOGIN_RATE_LIMIT", &cfg.LoginRateLimit)
	if v, ok := lookup(envPrefix + "AUTO_MIGRATE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %sAUTO_MIGRATE: %w", envPrefix, err))
		}
		cfg.AutoMigrate = b
	}
	if v, ok := lookup(envPrefix + "MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %sMAX_BODY_BYTES: %w", envPrefix, err))
		}
		cfg.MaxBodyBytes = n
	}
	return errors.Join(errs...)
}

// Production reports whether the service runs with production cookie and secret rules.
func (c Config) Production() bool { return c.Env == EnvProduction }

// Validate checks values that would otherwise fail at first use.
func (c Config) Validate() error {
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("config: unsupported env %q", c.Env)
	}
	if c.Production() && len(c.TokenSecret) < minSecretBytes {
		return fmt.Errorf("config: %sTOKEN_SECRET must be at least %d bytes in production", envPrefix, minSecretBytes)
	}
	if c.TokenTTL.Duration <= 0 {
		return errors.New("config: token_ttl must be positive")
	}
	if c.LockoutThreshold <= 0 {
		return errors.New("config: lockout_threshold must be positive")
	}
	if c.LockoutWindow.Duration <= 0 {
		return errors.New("config: lockout_window must be positive")
	}
	if c.PasswordMinLength <= 0 {
		return errors.New("config: password_min_length must be positive")
	}
	if (c.BootstrapEmail == "") != (c.BootstrapPassword == "") {
		return errors.New("config: bootstrap email and password must be set together")
	}
	return nil
}
