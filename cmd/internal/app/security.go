package app

import (
	"errors"

	"leaderlite/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
// Fail-fast: silently falling back to weaker refresh-token hashing in
// production is not acceptable.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured in raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: LEADERLITE_REQUIRE_TOKEN_HMAC=true but LEADERLITE_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: LEADERLITE_REQUIRE_TOKEN_HMAC=true but LEADERLITE_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}
	return nil
}
