package authapi

import (
	"errors"
	"net/http"
	"time"

	"leaderlite/cmd/internal/auth/session"
	"leaderlite/cmd/member"
)

// ErrUnauthenticated is returned by Identity.Resolve when the request
// carries no usable credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity resolves the caller behind an HTTP request: it validates the
// access token (bearer header first, then the access cookie) and re-reads
// the member profile so the role seen by handlers is always the stored
// one, never a claim baked into a token.
type Identity struct {
	sessions         *session.Service
	members          member.Store
	accessCookieName string
	now              func() time.Time
}

// NewIdentity constructs an Identity resolver. accessCookieName may be
// empty to disable the cookie fallback.
func NewIdentity(sessions *session.Service, members member.Store, accessCookieName string) *Identity {
	return &Identity{
		sessions:         sessions,
		members:          members,
		accessCookieName: accessCookieName,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (id *Identity) accessToken(r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		return tok
	}
	if id.accessCookieName == "" {
		return ""
	}
	c, err := r.Cookie(id.accessCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// Resolve authenticates the request and returns the caller's profile and
// session claims. Callers should treat any error as a 401.
func (id *Identity) Resolve(r *http.Request) (member.Member, session.AccessClaims, error) {
	tok := id.accessToken(r)
	if tok == "" {
		return member.Member{}, session.AccessClaims{}, ErrUnauthenticated
	}

	claims, err := id.sessions.ValidateAccessToken(r.Context(), tok, id.now())
	if err != nil {
		return member.Member{}, session.AccessClaims{}, err
	}

	m, err := id.members.GetByID(r.Context(), claims.MemberID)
	if err != nil {
		return member.Member{}, session.AccessClaims{}, err
	}

	return m, claims, nil
}
