package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config controls transport-level behavior of the auth API.
type Config struct {
	// TrustProxy enables X-Forwarded-For parsing for client IPs.
	// Only enable behind a proxy that strips inbound forwarding headers.
	TrustProxy bool

	// MaxBodyBytes caps request body size for JSON endpoints.
	MaxBodyBytes int64

	// Login rate limiting, applied per client IP.
	LoginRatePerMinute int
	LoginBurst         int

	// WebCookiesEnabled turns on the browser transport: HttpOnly access and
	// refresh cookies plus a readable CSRF cookie for double-submit checks.
	WebCookiesEnabled bool

	AccessCookieName  string
	RefreshCookieName string
	CSRFCookieName    string
	CSRFHeaderName    string

	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// DefaultConfig returns production-safe defaults.
func DefaultConfig() Config {
	return Config{
		TrustProxy:         false,
		MaxBodyBytes:       64 << 10,
		LoginRatePerMinute: 10,
		LoginBurst:         5,
		WebCookiesEnabled:  true,
		AccessCookieName:   "leaderlite_access",
		RefreshCookieName:  "leaderlite_refresh",
		CSRFCookieName:     "leaderlite_csrf",
		CSRFHeaderName:     "X-CSRF-Token",
		CookiePath:         "/",
		CookieSecure:       true,
		CookieSameSite:     http.SameSiteLaxMode,
	}
}

// LoadConfigFromEnv builds a Config from LEADERLITE_AUTH_* variables,
// falling back to defaults. Cookie guardrails are enforced after parsing:
// the CSRF cookie name must differ from the token cookies, and
// SameSite=None forces Secure.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.TrustProxy = envBool("LEADERLITE_AUTH_TRUST_PROXY", cfg.TrustProxy)
	cfg.MaxBodyBytes = envInt64("LEADERLITE_AUTH_MAX_BODY_BYTES", cfg.MaxBodyBytes, 1<<10, 1<<20)
	cfg.LoginRatePerMinute = envInt("LEADERLITE_AUTH_LOGIN_RATE_PER_MINUTE", cfg.LoginRatePerMinute, 1, 1000)
	cfg.LoginBurst = envInt("LEADERLITE_AUTH_LOGIN_BURST", cfg.LoginBurst, 1, 100)

	cfg.WebCookiesEnabled = envBool("LEADERLITE_AUTH_WEB_COOKIES", cfg.WebCookiesEnabled)
	cfg.AccessCookieName = envString("LEADERLITE_AUTH_ACCESS_COOKIE_NAME", cfg.AccessCookieName)
	cfg.RefreshCookieName = envString("LEADERLITE_AUTH_REFRESH_COOKIE_NAME", cfg.RefreshCookieName)
	cfg.CSRFCookieName = envString("LEADERLITE_AUTH_CSRF_COOKIE_NAME", cfg.CSRFCookieName)
	cfg.CSRFHeaderName = envString("LEADERLITE_AUTH_CSRF_HEADER_NAME", cfg.CSRFHeaderName)
	cfg.CookiePath = envString("LEADERLITE_AUTH_COOKIE_PATH", cfg.CookiePath)
	cfg.CookieDomain = envString("LEADERLITE_AUTH_COOKIE_DOMAIN", cfg.CookieDomain)
	cfg.CookieSecure = envBool("LEADERLITE_AUTH_COOKIE_SECURE", cfg.CookieSecure)
	cfg.CookieSameSite = parseSameSite(os.Getenv("LEADERLITE_AUTH_COOKIE_SAMESITE"), cfg.CookieSameSite)

	if cfg.CSRFCookieName == cfg.RefreshCookieName || cfg.CSRFCookieName == cfg.AccessCookieName {
		cfg.CSRFCookieName = DefaultConfig().CSRFCookieName
		if cfg.CSRFCookieName == cfg.RefreshCookieName {
			cfg.CSRFCookieName = cfg.RefreshCookieName + "_csrf"
		}
	}
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		// Browsers reject SameSite=None without Secure.
		cfg.CookieSecure = true
	}

	return cfg
}

func parseSameSite(raw string, def http.SameSite) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "":
		return def
	default:
		return def
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def, minVal, maxVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < minVal || n > maxVal {
		return def
	}
	return n
}

func envInt64(key string, def, minVal, maxVal int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < minVal || n > maxVal {
		return def
	}
	return n
}
