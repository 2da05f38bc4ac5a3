package authapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"leaderlite/cmd/internal/auth/session"
	"leaderlite/cmd/member"
	"leaderlite/cmd/security/password"
)

const (
	nameMaxLen  = 100
	emailMaxLen = 254

	// Hashed once at construction and verified against on login misses,
	// so unknown emails cost the same as wrong passwords.
	dummyPassword = "leaderlite-dummy-credential-000"
)

// Handler serves the authentication endpoints.
type Handler struct {
	log       *slog.Logger
	cfg       Config
	members   member.Store
	sessions  *session.Service
	passwords password.Config
	identity  *Identity
	limiter   *loginLimiter
	audit     *Auditor
	now       func() time.Time
	dummyHash string
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithAuditor attaches best-effort audit logging.
func WithAuditor(a *Auditor) HandlerOption {
	return func(h *Handler) { h.audit = a }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

// NewHandler constructs the auth API handler.
func NewHandler(log *slog.Logger, cfg Config, members member.Store, sessions *session.Service, passwords password.Config, opts ...HandlerOption) (*Handler, error) {
	if members == nil || sessions == nil {
		return nil, errors.New("authapi: nil member store or session service")
	}
	if log == nil {
		log = slog.Default()
	}

	dummyHash, err := passwords.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	accessCookie := ""
	if cfg.WebCookiesEnabled {
		accessCookie = cfg.AccessCookieName
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		members:   members,
		sessions:  sessions,
		passwords: passwords,
		identity:  NewIdentity(sessions, members, accessCookie),
		limiter:   newLoginLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst),
		now:       func() time.Time { return time.Now().UTC() },
		dummyHash: dummyHash,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Identity returns the resolver other handlers use to authenticate requests.
func (h *Handler) Identity() *Identity { return h.identity }

// Register mounts the auth routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/signup", h.handleSignup)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("GET /me", h.handleMe)
}

func (h *Handler) device(r *http.Request, rememberMe bool) session.DeviceContext {
	return session.DeviceContext{
		RememberMe: rememberMe,
		UserAgent:  r.UserAgent(),
		IP:         clientIP(r, h.cfg.TrustProxy),
	}
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req, h.cfg.MaxBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "malformed request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > nameMaxLen {
		writeError(w, http.StatusBadRequest, "invalid_name", "name must be 1-100 characters")
		return
	}

	email := member.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") || len(email) > emailMaxLen {
		writeError(w, http.StatusBadRequest, "invalid_email", "a valid email address is required")
		return
	}

	role := member.RoleMember
	if req.Role != "" {
		parsed, err := member.ParseRole(req.Role)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_role", "role must be member or admin")
			return
		}
		role = parsed
	}

	hash, err := h.passwords.Hash(req.Password)
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, "password_too_short", "password does not meet the minimum length")
		return
	case errors.Is(err, password.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, "password_too_long", "password exceeds the maximum length")
		return
	case err != nil:
		h.log.Error("authapi.signup.hash_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create account")
		return
	}

	now := h.now()
	id, err := member.NewULID(now)
	if err != nil {
		h.log.Error("authapi.signup.id_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create account")
		return
	}

	m, err := h.members.Upsert(r.Context(), member.UpsertInput{
		ID:           id,
		Name:         name,
		Email:        email,
		Points:       0,
		Role:         role,
		PasswordHash: hash,
		Now:          now,
	})
	switch {
	case member.IsConflict(err):
		writeError(w, http.StatusConflict, "email_taken", "a member with this email already exists")
		return
	case member.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	case err != nil:
		h.log.Error("authapi.signup.upsert_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create account")
		return
	}

	dev := h.device(r, req.RememberMe)
	issued, err := h.sessions.IssueSession(r.Context(), now, m.ID, dev)
	if err != nil {
		h.log.Error("authapi.signup.session_failed", "member_id", m.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create session")
		return
	}

	h.audit.Record(r.Context(), "auth.signup", m.ID, dev.IP, dev.UserAgent, map[string]any{"role": string(m.Role)})

	if h.cfg.WebCookiesEnabled {
		if err := h.setWebSessionCookies(w, issued); err != nil {
			h.log.Error("authapi.signup.cookies_failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not create session")
			return
		}
	}
	writeJSON(w, http.StatusCreated, authResponse{Member: toMemberResponse(m), Session: toSessionResponse(issued)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)

	if !h.limiter.allow(ipKey(ip), now) {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", "try again later")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req, h.cfg.MaxBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "malformed request body")
		return
	}

	email := member.NormalizeEmail(req.Email)
	m, storedHash, err := h.members.GetByEmailForLogin(r.Context(), email)
	if err != nil {
		if member.IsNotFound(err) {
			// Burn a verification anyway so unknown emails are not
			// distinguishable by response time.
			_, _ = h.passwords.Verify(h.dummyHash, req.Password)
			h.audit.Record(r.Context(), "auth.login_failed", "", ip, r.UserAgent(), map[string]any{"reason": "unknown_email"})
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
			return
		}
		h.log.Error("authapi.login.lookup_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not sign in")
		return
	}

	ok, err := h.passwords.Verify(storedHash, req.Password)
	if err != nil || !ok {
		h.audit.Record(r.Context(), "auth.login_failed", m.ID, ip, r.UserAgent(), map[string]any{"reason": "bad_password"})
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		return
	}

	dev := h.device(r, req.RememberMe)
	issued, err := h.sessions.IssueSession(r.Context(), now, m.ID, dev)
	if err != nil {
		h.log.Error("authapi.login.session_failed", "member_id", m.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not sign in")
		return
	}

	h.audit.Record(r.Context(), "auth.login", m.ID, dev.IP, dev.UserAgent, nil)

	if h.cfg.WebCookiesEnabled {
		if err := h.setWebSessionCookies(w, issued); err != nil {
			h.log.Error("authapi.login.cookies_failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not sign in")
			return
		}
	}
	writeJSON(w, http.StatusOK, authResponse{Member: toMemberResponse(m), Session: toSessionResponse(issued)})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req, h.cfg.MaxBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "malformed request body")
		return
	}

	refreshToken := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if refreshToken == "" && h.cfg.WebCookiesEnabled {
		if c, err := r.Cookie(h.cfg.RefreshCookieName); err == nil {
			refreshToken = c.Value
			fromCookie = true
		}
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token", "no refresh token provided")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_required", "missing or mismatched CSRF token")
		return
	}

	now := h.now()
	dev := h.device(r, req.RememberMe)
	issued, err := h.sessions.RotateRefresh(r.Context(), now, refreshToken, dev)
	switch {
	case errors.Is(err, session.ErrRefreshReuseDetected):
		h.audit.Record(r.Context(), "auth.refresh_reuse", "", dev.IP, dev.UserAgent, nil)
		if h.cfg.WebCookiesEnabled {
			h.clearWebSessionCookies(w)
		}
		writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "all sessions have been revoked")
		return
	case errors.Is(err, session.ErrSessionExpired):
		if h.cfg.WebCookiesEnabled {
			h.clearWebSessionCookies(w)
		}
		writeError(w, http.StatusUnauthorized, "session_expired", "sign in again")
		return
	case err != nil:
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token was not accepted")
		return
	}

	if h.cfg.WebCookiesEnabled {
		if err := h.setWebSessionCookies(w, issued); err != nil {
			h.log.Error("authapi.refresh.cookies_failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not refresh session")
			return
		}
	}
	writeJSON(w, http.StatusOK, toSessionResponse(issued))
}

// handleLogout revokes the caller's session. It is idempotent: cookies are
// cleared and 204 returned even when no valid session was presented.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if tok := h.identity.accessToken(r); tok != "" {
		if claims, err := h.sessions.ValidateAccessToken(r.Context(), tok, now); err == nil {
			if err := h.sessions.RevokeSession(r.Context(), now, claims.SessionID); err != nil {
				h.log.Error("authapi.logout.revoke_failed", "session_id", claims.SessionID, "err", err)
			} else {
				h.audit.Record(r.Context(), "auth.logout", claims.MemberID, clientIP(r, h.cfg.TrustProxy), r.UserAgent(), nil)
			}
		}
	}
	if h.cfg.WebCookiesEnabled {
		h.clearWebSessionCookies(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	tok := h.identity.accessToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "sign in first")
		return
	}
	claims, err := h.sessions.ValidateAccessToken(r.Context(), tok, now)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "sign in first")
		return
	}
	if err := h.sessions.RevokeAll(r.Context(), now, claims.MemberID); err != nil {
		h.log.Error("authapi.logout_all.failed", "member_id", claims.MemberID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not revoke sessions")
		return
	}
	h.audit.Record(r.Context(), "auth.logout_all", claims.MemberID, clientIP(r, h.cfg.TrustProxy), r.UserAgent(), nil)
	if h.cfg.WebCookiesEnabled {
		h.clearWebSessionCookies(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	m, _, err := h.identity.Resolve(r)
	if err != nil {
		if member.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unknown_member", "no profile for this identity")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthenticated", "sign in first")
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(m))
}
