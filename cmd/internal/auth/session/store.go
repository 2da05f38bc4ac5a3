package session

import (
	"context"
	"net"
	"time"
)

// Row mirrors the leaderlite.sessions row used by the session subsystem.
type Row struct {
	ID                  string
	MemberID            string
	RefreshTokenHash    string
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
	Remember            bool
}

// DeviceContext describes the client that owns a session.
type DeviceContext struct {
	RememberMe bool
	UserAgent  string
	IP         net.IP
}

// CreateInput describes a new session row.
type CreateInput struct {
	MemberID    string
	RefreshHash string
	Device      DeviceContext
	ExpiresAt   time.Time
	Now         time.Time
}

// RotateInput describes a refresh rotation attempt.
type RotateInput struct {
	RefreshHash    string
	NewRefreshHash string
	Device         DeviceContext
	NewExpiresAt   time.Time
	Now            time.Time
}

// Store abstracts persistence for session state.
//
// Rotate is a single store operation so each implementation can provide its
// own atomicity: the Postgres store runs a transaction with a FOR UPDATE row
// lock, the memory store holds its mutex for the whole rotation.
type Store interface {
	// Create inserts a new session row and returns its ID.
	Create(ctx context.Context, in CreateInput) (sessionID string, err error)

	// GetByID loads a session row by ID.
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// Rotate atomically exchanges an active refresh token for a new session.
	//
	// Outcomes:
	//   - unknown hash: ErrSessionNotFound
	//   - expired session: ErrSessionExpired
	//   - rotated token presented again: all of the member's sessions are
	//     revoked and ErrRefreshReuseDetected is returned
	//   - revoked without replacement: ErrSessionRevoked
	//   - otherwise: the old row is revoked and linked to the returned new row
	Rotate(ctx context.Context, in RotateInput) (Row, error)

	// Touch updates last_used_at for a session.
	Touch(ctx context.Context, now time.Time, sessionID string) error

	// Revoke revokes a single session (idempotent).
	Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error

	// RevokeAll revokes all sessions for a member (idempotent).
	RevokeAll(ctx context.Context, now time.Time, memberID string, reason string) error
}
