package session

import (
	"context"
	"sync"
	"time"

	"leaderlite/cmd/internal/ids"
)

// MemoryStore is the in-memory Store used when no database is configured
// (dev mode) and by unit tests. Rotation atomicity comes from holding the
// mutex for the whole exchange.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Row
	byHash map[string]string // refresh_token_hash -> session id
}

// NewMemoryStore constructs an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Row),
		byHash: make(map[string]string),
	}
}

// Create inserts a new session row and returns its ULID.
func (s *MemoryStore) Create(ctx context.Context, in CreateInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createLocked(in.MemberID, in.RefreshHash, in.Device, now, in.ExpiresAt)
}

func (s *MemoryStore) createLocked(memberID, refreshHash string, dev DeviceContext, now, expiresAt time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	lastUsed := now
	row := &Row{
		ID:               id,
		MemberID:         memberID,
		RefreshTokenHash: refreshHash,
		CreatedAt:        now,
		LastUsedAt:       &lastUsed,
		ExpiresAt:        expiresAt,
		Remember:         dev.RememberMe,
	}
	s.byID[id] = row
	s.byHash[refreshHash] = id
	return id, nil
}

// GetByID loads a session row by ID.
func (s *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *row, nil
}

// Rotate exchanges an active refresh token for a new session.
func (s *MemoryStore) Rotate(ctx context.Context, in RotateInput) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldID, ok := s.byHash[in.RefreshHash]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	old := s.byID[oldID]

	if !old.ExpiresAt.After(now) {
		return Row{}, ErrSessionExpired
	}
	if old.RevokedAt != nil && old.ReplacedBySessionID != nil {
		s.revokeAllLocked(old.MemberID, now)
		return Row{}, ErrRefreshReuseDetected
	}
	if old.RevokedAt != nil {
		return Row{}, ErrSessionRevoked
	}

	newID, err := s.createLocked(old.MemberID, in.NewRefreshHash, in.Device, now, in.NewExpiresAt)
	if err != nil {
		return Row{}, err
	}

	revokedAt := now
	lastUsed := now
	old.RevokedAt = &revokedAt
	old.LastUsedAt = &lastUsed
	replaced := newID
	old.ReplacedBySessionID = &replaced

	return *s.byID[newID], nil
}

// Touch updates last_used_at for a session.
func (s *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.byID[sessionID]; ok {
		t := now
		row.LastUsedAt = &t
	}
	return nil
}

// Revoke revokes a single session (idempotent).
func (s *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.byID[sessionID]; ok && row.RevokedAt == nil {
		t := now
		row.RevokedAt = &t
	}
	return nil
}

// RevokeAll revokes all sessions for a member (idempotent).
func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, memberID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeAllLocked(memberID, now)
	return nil
}

func (s *MemoryStore) revokeAllLocked(memberID string, now time.Time) {
	for _, row := range s.byID {
		if row.MemberID == memberID && row.RevokedAt == nil {
			t := now
			row.RevokedAt = &t
		}
	}
}
