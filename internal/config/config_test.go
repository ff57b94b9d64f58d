package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ALPHA_GATEWAY_IPN_SECRET", "ipn-secret")
	t.Setenv("ALPHA_JWT_SECRET", "jwt-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("ALPHA_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppPort != 8080 {
		t.Fatalf("expected default port got %d", cfg.AppPort)
	}
	if cfg.Gateway.Timeout != 10*time.Second {
		t.Fatalf("expected 10s gateway timeout got %v", cfg.Gateway.Timeout)
	}
	if cfg.CoursePriceUSD.String() != "50" {
		t.Fatalf("expected default price 50 got %s", cfg.CoursePriceUSD)
	}
	if cfg.Payments.LedgerBackend != LedgerMemory {
		t.Fatalf("expected memory ledger got %q", cfg.Payments.LedgerBackend)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ALPHA_PORT", "9090")
	t.Setenv("ALPHA_COURSE_PRICE_USD", "79.99")
	t.Setenv("ALPHA_VIEWING_SESSION_TTL", "90m")
	t.Setenv("ALPHA_LEDGER_BACKEND", "postgres")
	t.Setenv("ALPHA_SECURE_COOKIE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppPort != 9090 {
		t.Fatalf("expected port override got %d", cfg.AppPort)
	}
	if cfg.CoursePriceUSD.String() != "79.99" {
		t.Fatalf("unexpected price %s", cfg.CoursePriceUSD)
	}
	if cfg.Viewing.SessionTTL != 90*time.Minute {
		t.Fatalf("unexpected session ttl %v", cfg.Viewing.SessionTTL)
	}
	if cfg.Payments.LedgerBackend != LedgerPostgres {
		t.Fatalf("unexpected ledger backend %q", cfg.Payments.LedgerBackend)
	}
	if !cfg.Auth.SecureCookie {
		t.Fatal("expected secure cookie flag")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alpha.yaml")
	contents := `
port: 7000
course_price_usd: "120"
gateway:
  ipn_secret: from-file
  timeout: 3s
auth:
  jwt_secret: file-jwt
payments:
  retention: 2h
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ALPHA_CONFIG_FILE", path)
	t.Setenv("ALPHA_PORT", "7001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppPort != 7001 {
		t.Fatalf("env should win over file, got %d", cfg.AppPort)
	}
	if cfg.Gateway.IPNSecret != "from-file" || cfg.Auth.JWTSecret != "file-jwt" {
		t.Fatalf("secrets not read from file: %+v %+v", cfg.Gateway, cfg.Auth)
	}
	if cfg.Gateway.Timeout != 3*time.Second {
		t.Fatalf("unexpected gateway timeout %v", cfg.Gateway.Timeout)
	}
	if cfg.Payments.Retention != 2*time.Hour {
		t.Fatalf("unexpected retention %v", cfg.Payments.Retention)
	}
	if cfg.CoursePriceUSD.String() != "120" {
		t.Fatalf("unexpected price %s", cfg.CoursePriceUSD)
	}
	if cfg.Gateway.BaseURL == "" {
		t.Fatal("defaults not kept for keys missing from the file")
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("ALPHA_GATEWAY_IPN_SECRET", "")
	t.Setenv("ALPHA_JWT_SECRET", "")
	t.Setenv("ALPHA_LEDGER_BACKEND", "sqlite")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"ipn secret", "jwt secret", "ledger backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in error %q", want, err)
		}
	}
}

func TestLoadRejectsBadPrice(t *testing.T) {
	setRequired(t)
	t.Setenv("ALPHA_COURSE_PRICE_USD", "fifty")

	if _, err := Load(); err == nil {
		t.Fatal("expected price parse error")
	}

	t.Setenv("ALPHA_COURSE_PRICE_USD", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected non-positive price to be rejected")
	}
}
