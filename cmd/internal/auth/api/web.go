package authapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"leaderlite/cmd/internal/auth/session"
	"leaderlite/cmd/security/token"
)

// setWebSessionCookies installs the browser transport for a freshly issued
// session: HttpOnly access and refresh cookies, plus a JS-readable CSRF
// cookie whose value must be echoed in the CSRF header on cookie-based
// refreshes (double submit).
func (h *Handler) setWebSessionCookies(w http.ResponseWriter, issued session.Issued) error {
	csrf, err := token.NewOpaque(32)
	if err != nil {
		return err
	}

	http.SetCookie(w, h.sessionCookie(h.cfg.AccessCookieName, issued.AccessToken, issued.AccessExp, true))
	http.SetCookie(w, h.sessionCookie(h.cfg.RefreshCookieName, issued.RefreshToken, issued.RefreshExp, true))
	http.SetCookie(w, h.sessionCookie(h.cfg.CSRFCookieName, csrf, issued.RefreshExp, false))
	return nil
}

func (h *Handler) clearWebSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.expiredCookie(h.cfg.AccessCookieName, true))
	http.SetCookie(w, h.expiredCookie(h.cfg.RefreshCookieName, true))
	http.SetCookie(w, h.expiredCookie(h.cfg.CSRFCookieName, false))
}

func (h *Handler) sessionCookie(name, value string, expires time.Time, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  expires,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
}

func (h *Handler) expiredCookie(name string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
}

// csrfDoubleSubmitValid checks that the CSRF header echoes the CSRF cookie.
// Required whenever the refresh token arrives via cookie instead of body.
func (h *Handler) csrfDoubleSubmitValid(r *http.Request) bool {
	c, err := r.Cookie(h.cfg.CSRFCookieName)
	if err != nil || c.Value == "" {
		return false
	}
	header := r.Header.Get(h.cfg.CSRFHeaderName)
	if header == "" {
		return false
	}
	return secureStringEqual(c.Value, header)
}

func secureStringEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
