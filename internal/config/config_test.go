package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LockoutThreshold != 5 || cfg.LockoutWindow.Duration != 30*time.Minute {
		t.Fatalf("unexpected lockout defaults: %+v", cfg)
	}
	if cfg.TokenTTL.Duration != 24*time.Hour {
		t.Fatalf("unexpected token ttl: %v", cfg.TokenTTL)
	}
	if cfg.BcryptCost != 12 || cfg.PasswordMinLength != 8 {
		t.Fatalf("unexpected password defaults: %+v", cfg)
	}
	if cfg.Production() {
		t.Fatalf("default env should be development")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "superadmin.toml")
	body := `
env = "production"
token_secret = "file-secret-file-secret-file-secret-0000"
lockout_window = "15m"
password_min_length = 12
http_addr = ":7000"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := load(lookupFrom(map[string]string{
		"SUPERADMIN_CONFIG":    path,
		"SUPERADMIN_HTTP_ADDR": ":9999",
		"SUPERADMIN_LOG_LEVEL": "debug",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Production() {
		t.Fatalf("expected production env from file")
	}
	if cfg.LockoutWindow.Duration != 15*time.Minute || cfg.PasswordMinLength != 12 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("env should override file, got %s", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level %s", cfg.LogLevel)
	}
}

func TestProductionRequiresStrongSecret(t *testing.T) {
	_, err := load(lookupFrom(map[string]string{
		"SUPERADMIN_ENV":          "production",
		"SUPERADMIN_TOKEN_SECRET": "short",
	}))
	if err == nil || !strings.Contains(err.Error(), "TOKEN_SECRET") {
		t.Fatalf("expected secret length error, got %v", err)
	}
}

func TestInvalidNumbersAreReported(t *testing.T) {
	_, err := load(lookupFrom(map[string]string{
		"SUPERADMIN_LOCKOUT_THRESHOLD": "five",
		"SUPERADMIN_LOCKOUT_WINDOW":    "soon",
	}))
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	if !strings.Contains(err.Error(), "LOCKOUT_THRESHOLD") || !strings.Contains(err.Error(), "LOCKOUT_WINDOW") {
		t.Fatalf("expected both variables in error, got %v", err)
	}
}

func TestBootstrapPairValidation(t *testing.T) {
	_, err := load(lookupFrom(map[string]string{"SUPERADMIN_BOOTSTRAP_EMAIL": "root@example.com"}))
	if err == nil {
		t.Fatalf("expected bootstrap validation error")
	}
}
