package member

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require LEADERLITE_TEST_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_Upsert_Idempotent(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyMemberSchema(t, pool, schema)

	s := mustNewMemberStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	id := mustNewTestULID(t)
	in := UpsertInput{
		ID:           id,
		Name:         "Ada",
		Email:        "ada-" + strings.ToLower(id) + "@example.com",
		Points:       0,
		Role:         RoleMember,
		PasswordHash: "$argon2id$fake",
		Now:          time.Now().UTC(),
	}

	first, err := s.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	second, err := s.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	if first.ID != second.ID || first.Email != second.Email || first.Points != second.Points {
		t.Fatalf("repeated upsert diverged: first=%+v second=%+v", first, second)
	}

	all, err := s.ListByPoints(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(all))
	}
}

func TestPostgresStore_Upsert_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyMemberSchema(t, pool, schema)

	s := mustNewMemberStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := s.Upsert(ctx, UpsertInput{
		ID:    mustNewTestULID(t),
		Name:  "Ada",
		Email: "Conflict@Example.com",
		Role:  RoleMember,
		Now:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert 1: %v", err)
	}

	_, err = s.Upsert(ctx, UpsertInput{
		ID:    mustNewTestULID(t),
		Name:  "Grace",
		Email: "conflict@example.COM",
		Role:  RoleMember,
		Now:   time.Now().UTC(),
	})
	if err == nil {
		t.Fatalf("expected conflict, got nil")
	}
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got: %v", err)
	}
}

func TestPostgresStore_GetByEmailForLogin_ReturnsHash(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyMemberSchema(t, pool, schema)

	s := mustNewMemberStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	id := mustNewTestULID(t)
	email := "login-" + strings.ToLower(id) + "@Example.com"
	_, err := s.Upsert(ctx, UpsertInput{
		ID:           id,
		Name:         "Ada",
		Email:        email,
		Role:         RoleAdmin,
		PasswordHash: "$argon2id$fake-hash",
		Now:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	m, hash, err := s.GetByEmailForLogin(ctx, strings.ToUpper(email))
	if err != nil {
		t.Fatalf("login lookup: %v", err)
	}
	if m.ID != id || m.Role != RoleAdmin {
		t.Fatalf("unexpected member: %+v", m)
	}
	if hash != "$argon2id$fake-hash" {
		t.Fatalf("unexpected hash: %q", hash)
	}
}

func TestPostgresStore_AddPoints_IncrementsAndOrders(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyMemberSchema(t, pool, schema)

	s := mustNewMemberStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ids := make([]string, 0, 3)
	for i, p := range []int{150, 120, 95} {
		id := mustNewTestULID(t)
		ids = append(ids, id)
		_, err := s.Upsert(ctx, UpsertInput{
			ID:     id,
			Name:   fmt.Sprintf("Member %d", i),
			Email:  fmt.Sprintf("m%d-%s@example.com", i, strings.ToLower(id)),
			Points: p,
			Role:   RoleMember,
			Now:    time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	// 95 + 90 = 185 moves the last member to the top.
	if err := s.AddPoints(ctx, ids[2], 90); err != nil {
		t.Fatalf("add points: %v", err)
	}

	got, err := s.ListByPoints(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []int{185, 150, 120}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Points != want[i] {
			t.Fatalf("position %d: expected %d points, got %d", i, want[i], got[i].Points)
		}
	}

	if err := s.AddPoints(ctx, ids[0], 0); err != nil {
		t.Fatalf("zero delta should be a no-op: %v", err)
	}
	if err := s.AddPoints(ctx, mustNewTestULID(t), 5); !IsNotFound(err) {
		t.Fatalf("expected not found, got: %v", err)
	}
}

// ---- helpers ----

func mustNewMemberStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()
	s, err := NewPostgresStore(pool, nil, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

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

	// Validate acquire quickly (fast fail).
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

func mustApplyMemberSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	members := pgIdent(schema, "members")
	creds := pgIdent(schema, "member_credentials")

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

  CONSTRAINT uq_members_email_norm UNIQUE (email_norm),
  CONSTRAINT chk_members_points_nonneg CHECK (points >= 0),
  CONSTRAINT chk_members_role CHECK (role IN ('member', 'admin'))
);

CREATE TABLE IF NOT EXISTS %s (
  member_id TEXT PRIMARY KEY REFERENCES %s(id) ON DELETE CASCADE,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_members_points
  ON %s (points DESC);
`, members, creds, members, members)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
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

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return id
}

func pgxIdent1(ident string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection in dynamic DDL.
	return pgx.Identifier{ident}.Sanitize()
}
