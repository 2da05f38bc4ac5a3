package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"leaderlite/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require LEADERLITE_TEST_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_Rotate_Success_ThenReuseDetected(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySessionSchema(t, pool, schema)

	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	memberID := mustInsertSessionMember(t, pool, schema)
	now := time.Now().UTC()

	_, hash1, err := newOpaqueRefreshToken(32)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	sid, err := s.Create(ctx, CreateInput{
		MemberID:    memberID,
		RefreshHash: hash1,
		Device:      DeviceContext{UserAgent: "leaderlite-test/1.0", IP: net.ParseIP("127.0.0.1")},
		ExpiresAt:   now.Add(24 * time.Hour),
		Now:         now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, hash2, err := newOpaqueRefreshToken(32)
	if err != nil {
		t.Fatalf("token 2: %v", err)
	}

	rotated, err := s.Rotate(ctx, RotateInput{
		RefreshHash:    hash1,
		NewRefreshHash: hash2,
		NewExpiresAt:   now.Add(24 * time.Hour),
		Now:            now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.ID == sid {
		t.Fatalf("expected new session id")
	}

	old, err := s.GetByID(ctx, sid)
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if old.RevokedAt == nil || old.ReplacedBySessionID == nil || *old.ReplacedBySessionID != rotated.ID {
		t.Fatalf("old session not linked to replacement: %+v", old)
	}

	// Reuse of the rotated hash revokes everything.
	_, hash3, err := newOpaqueRefreshToken(32)
	if err != nil {
		t.Fatalf("token 3: %v", err)
	}
	_, err = s.Rotate(ctx, RotateInput{
		RefreshHash:    hash1,
		NewRefreshHash: hash3,
		NewExpiresAt:   now.Add(24 * time.Hour),
		Now:            now.Add(2 * time.Minute),
	})
	if !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected ErrRefreshReuseDetected, got: %v", err)
	}

	replacement, err := s.GetByID(ctx, rotated.ID)
	if err != nil {
		t.Fatalf("get replacement: %v", err)
	}
	if replacement.RevokedAt == nil {
		t.Fatalf("expected replacement revoked after reuse")
	}
}

func TestPostgresStore_Rotate_Expired(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySessionSchema(t, pool, schema)

	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	memberID := mustInsertSessionMember(t, pool, schema)
	now := time.Now().UTC()

	_, hash, err := newOpaqueRefreshToken(32)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	_, err = s.Create(ctx, CreateInput{
		MemberID:    memberID,
		RefreshHash: hash,
		ExpiresAt:   now.Add(time.Hour),
		Now:         now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, hashNew, err := newOpaqueRefreshToken(32)
	if err != nil {
		t.Fatalf("token 2: %v", err)
	}
	_, err = s.Rotate(ctx, RotateInput{
		RefreshHash:    hash,
		NewRefreshHash: hashNew,
		NewExpiresAt:   now.Add(48 * time.Hour),
		Now:            now.Add(2 * time.Hour),
	})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got: %v", err)
	}
}

// ---- helpers ----

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("LEADERLITE_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: LEADERLITE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse LEADERLITE_TEST_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (LEADERLITE_TEST_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "leaderlite_it_" + strings.ToLower(mustNewTestULID(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgxIdent1(schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgxIdent1(schema)+` CASCADE`)
}

func mustApplySessionSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	members := pgx.Identifier{schema, "members"}.Sanitize()
	sessions := pgx.Identifier{schema, "sessions"}.Sanitize()

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  points INTEGER NOT NULL DEFAULT 0,
  role TEXT NOT NULL DEFAULT 'member',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_members_email_norm UNIQUE (email_norm)
);

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  member_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  refresh_token_hash TEXT NOT NULL,

  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_used_at TIMESTAMPTZ NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  revoked_at TIMESTAMPTZ NULL,

  replaced_by_session_id TEXT NULL REFERENCES %s(id) ON DELETE SET NULL,

  user_agent TEXT NULL,
  ip INET NULL,
  remember BOOLEAN NOT NULL DEFAULT FALSE,
  revocation_reason TEXT NULL,

  CONSTRAINT uq_sessions_refresh_token_hash UNIQUE (refresh_token_hash),
  CONSTRAINT chk_sessions_replaced_not_self CHECK (replaced_by_session_id IS NULL OR replaced_by_session_id <> id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_member_id ON %s (member_id);
`, members, sessions, members, sessions, sessions)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustInsertSessionMember(t *testing.T, pool *pgxpool.Pool, schema string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := mustNewTestULID(t)
	members := pgx.Identifier{schema, "members"}.Sanitize()
	_, err := pool.Exec(ctx,
		`INSERT INTO `+members+` (id, name, email, email_norm, points, role)
		 VALUES ($1, $2, $3, $3, 0, 'member')`,
		id, "Member "+id, strings.ToLower(id)+"@example.com",
	)
	if err != nil {
		t.Fatalf("insert member: %v", err)
	}
	return id
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}

func mustNewTestULID(t *testing.T) string {
	t.Helper()

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return id
}

func pgxIdent1(ident string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection in dynamic DDL.
	return pgx.Identifier{ident}.Sanitize()
}
