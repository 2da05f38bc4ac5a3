package session

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_EmptySecretKeyAllowed(t *testing.T) {
	t.Setenv("LEADERLITE_PASETO_V4_SECRET_KEY_HEX", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PasetoV4SecretKeyHex != "" {
		t.Fatalf("expected empty key to pass through")
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	t.Setenv("LEADERLITE_AUTH_ACCESS_TTL", "-5m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidRefreshTokenBytes(t *testing.T) {
	t.Setenv("LEADERLITE_AUTH_REFRESH_TOKEN_BYTES", "16")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for small refresh bytes, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidRememberTTLOrder(t *testing.T) {
	t.Setenv("LEADERLITE_AUTH_REFRESH_TTL", "720h")
	t.Setenv("LEADERLITE_AUTH_REFRESH_TTL_REMEMBER", "168h")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for remember ttl order, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("LEADERLITE_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("LEADERLITE_AUTH_ISSUER", "leaderlite-test")
	t.Setenv("LEADERLITE_AUTH_ACCESS_TTL", "10m")
	t.Setenv("LEADERLITE_AUTH_REFRESH_TTL", "48h")
	t.Setenv("LEADERLITE_AUTH_REFRESH_TTL_REMEMBER", "720h")
	t.Setenv("LEADERLITE_AUTH_CLOCK_SKEW", "20s")
	t.Setenv("LEADERLITE_AUTH_REFRESH_TOKEN_BYTES", "32")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Issuer != "leaderlite-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTTL != 48*time.Hour {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTTL)
	}
	if cfg.RefreshTTLRemember != 720*time.Hour {
		t.Fatalf("remember ttl mismatch: %v", cfg.RefreshTTLRemember)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
	if cfg.RefreshTokenBytes != 32 {
		t.Fatalf("refresh token bytes mismatch: %d", cfg.RefreshTokenBytes)
	}
	if cfg.PasetoV4SecretKeyHex == "" {
		t.Fatalf("expected secret key")
	}
}
