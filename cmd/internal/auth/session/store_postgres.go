package session

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leaderlite/cmd/internal/ids"
)

// PostgresStore implements Store using PostgreSQL (leaderlite.sessions).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "leaderlite").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrConfig
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "leaderlite"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrConfig
	}
	return st, nil
}

func (s *PostgresStore) sessions() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (string, error) {
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.sessions()+` (
			id, member_id, refresh_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, user_agent, ip, remember, revocation_reason
		) VALUES (
			$1, $2, $3,
			$4, $4, $5, NULL,
			NULL, $6, $7, $8, NULL
		)
	`, id, in.MemberID, in.RefreshHash, in.Now, in.ExpiresAt,
		nullIfEmpty(in.Device.UserAgent), nullIfNilIP(in.Device.IP), in.Device.RememberMe)
	if err != nil {
		return "", err
	}

	return id, nil
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	var row Row

	err := s.pool.QueryRow(ctx, `
		SELECT
			id, member_id, refresh_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, remember
		FROM `+s.sessions()+`
		WHERE id = $1
	`, sessionID).Scan(
		&row.ID,
		&row.MemberID,
		&row.RefreshTokenHash,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBySessionID,
		&row.Remember,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}

	return row, nil
}

// Rotate exchanges an active refresh token for a new session inside a single
// transaction. The old row is locked FOR UPDATE so concurrent rotations of
// the same token serialize.
func (s *PostgresStore) Rotate(ctx context.Context, in RotateInput) (Row, error) {
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Row{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var old Row
	err = tx.QueryRow(ctx, `
		SELECT
			id, member_id, refresh_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, remember
		FROM `+s.sessions()+`
		WHERE refresh_token_hash = $1
		FOR UPDATE
	`, in.RefreshHash).Scan(
		&old.ID,
		&old.MemberID,
		&old.RefreshTokenHash,
		&old.CreatedAt,
		&old.LastUsedAt,
		&old.ExpiresAt,
		&old.RevokedAt,
		&old.ReplacedBySessionID,
		&old.Remember,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}

	if !old.ExpiresAt.After(in.Now) {
		return Row{}, ErrSessionExpired
	}

	// Reuse detection: a rotated refresh token presented again.
	// Revoking every session of the member is the containment move.
	if old.RevokedAt != nil && old.ReplacedBySessionID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE `+s.sessions()+`
			SET revoked_at = COALESCE(revoked_at, $2),
			    revocation_reason = COALESCE(revocation_reason, 'reuse_detected')
			WHERE member_id = $1
		`, old.MemberID, in.Now); err != nil {
			return Row{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Row{}, err
		}
		return Row{}, ErrRefreshReuseDetected
	}

	// Revoked without replacement: plain logout.
	if old.RevokedAt != nil {
		return Row{}, ErrSessionRevoked
	}

	newID, err := ids.NewULID(in.Now)
	if err != nil {
		return Row{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO `+s.sessions()+` (
			id, member_id, refresh_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, user_agent, ip, remember, revocation_reason
		) VALUES (
			$1, $2, $3,
			$4, $4, $5, NULL,
			NULL, $6, $7, $8, NULL
		)
	`, newID, old.MemberID, in.NewRefreshHash, in.Now, in.NewExpiresAt,
		nullIfEmpty(in.Device.UserAgent), nullIfNilIP(in.Device.IP), in.Device.RememberMe); err != nil {
		return Row{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE `+s.sessions()+`
		SET
			last_used_at = $2,
			revoked_at = $2,
			replaced_by_session_id = $3,
			revocation_reason = 'rotation'
		WHERE id = $1
	`, old.ID, in.Now, newID); err != nil {
		return Row{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Row{}, err
	}

	lastUsed := in.Now
	return Row{
		ID:               newID,
		MemberID:         old.MemberID,
		RefreshTokenHash: in.NewRefreshHash,
		CreatedAt:        in.Now,
		LastUsedAt:       &lastUsed,
		ExpiresAt:        in.NewExpiresAt,
		Remember:         in.Device.RememberMe,
	}, nil
}

// Touch updates last_used_at for a session.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessions()+`
		SET last_used_at = $2
		WHERE id = $1
	`, sessionID, now)
	return err
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessions()+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

// RevokeAll revokes all sessions for a member (idempotent).
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, memberID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessions()+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE member_id = $1
	`, memberID, now, reason)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNilIP(ip net.IP) any {
	if ip == nil {
		return nil
	}
	return ip
}
