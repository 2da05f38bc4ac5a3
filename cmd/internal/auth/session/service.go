package session

import (
	"context"
	"strings"
	"time"
)

// Service implements the high-level session operations.
//
// It issues sessions (access + refresh), validates access tokens,
// supports per-session and per-member revocation, and performs refresh
// rotation with reuse detection through the store's atomic Rotate.
type Service struct {
	cfg    Config
	tokens AccessTokenManager
	store  Store
}

// Issued is the result of issuing or rotating a session.
// It includes a short-lived access token and an opaque refresh token.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service with the provided configuration, store, and token manager.
func NewService(cfg Config, store Store, tokens AccessTokenManager) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens}
}

func (s *Service) refreshTTL(dev DeviceContext) time.Duration {
	if dev.RememberMe {
		return s.cfg.RefreshTTLRemember
	}
	return s.cfg.RefreshTTL
}

// PublicKeyHex exposes the verification key for external verifiers.
func (s *Service) PublicKeyHex() string {
	return s.tokens.PublicKeyHex()
}

// IssueSession creates a new session row and returns fresh tokens.
//
// Refresh tokens are opaque random strings and must never be persisted in
// plaintext. Only the hash (hex) is stored.
func (s *Service) IssueSession(ctx context.Context, now time.Time, memberID string, dev DeviceContext) (Issued, error) {
	refreshPlain, refreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}

	refreshExp := now.Add(s.refreshTTL(dev))

	sessionID, err := s.store.Create(ctx, CreateInput{
		MemberID:    memberID,
		RefreshHash: refreshHash,
		Device:      dev,
		ExpiresAt:   refreshExp,
		Now:         now,
	})
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(memberID, sessionID, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// ValidateAccessToken verifies an access token and ensures the backing session is active.
func (s *Service) ValidateAccessToken(ctx context.Context, token string, now time.Time) (AccessClaims, error) {
	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return AccessClaims{}, err
	}

	// Server-authoritative session check to honor revocations.
	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AccessClaims{}, err
	}

	if row.MemberID != claims.MemberID {
		return AccessClaims{}, ErrInvalidToken
	}
	if row.RevokedAt != nil || row.ReplacedBySessionID != nil {
		return AccessClaims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return AccessClaims{}, ErrSessionExpired
	}

	return claims, nil
}

// RotateRefresh exchanges a refresh token for a new session and fresh tokens.
//
// Reuse detection lives in the store: presenting an already-rotated token
// revokes all of the member's sessions and surfaces ErrRefreshReuseDetected.
func (s *Service) RotateRefresh(ctx context.Context, now time.Time, refreshTokenPlain string, dev DeviceContext) (Issued, error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	// Basic sanity bounds to avoid pathological inputs.
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return Issued{}, ErrSessionNotFound
	}

	// Hash refresh token in-memory (never persist the plain token).
	refreshHash := hashRefreshTokenHex(refreshTokenPlain)

	newRefreshPlain, newRefreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	newRefreshExp := now.Add(s.refreshTTL(dev))

	row, err := s.store.Rotate(ctx, RotateInput{
		RefreshHash:    refreshHash,
		NewRefreshHash: newRefreshHash,
		Device:         dev,
		NewExpiresAt:   newRefreshExp,
		Now:            now,
	})
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(row.MemberID, row.ID, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    row.ID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newRefreshPlain,
		RefreshExp:   newRefreshExp,
	}, nil
}

// RevokeSession revokes a single session by ID (logout).
func (s *Service) RevokeSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Revoke(ctx, now, sessionID, "logout")
}

// RevokeAll revokes all sessions for a member (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, memberID string) error {
	return s.store.RevokeAll(ctx, now, memberID, "logout")
}

// TouchSession updates last_used_at for a session (best-effort).
func (s *Service) TouchSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Touch(ctx, now, sessionID)
}
