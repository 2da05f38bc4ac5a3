package request

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

func TestPostgresStore_Approve_CreditsAndFlipsAtomically(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyRequestSchema(t, pool, schema)

	s := mustNewRequestStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	memberID := mustInsertTestMember(t, pool, schema, 100)

	r, err := s.Submit(ctx, SubmitRecord{
		ID:          mustNewTestULID(t),
		MemberID:    memberID,
		MemberName:  "Ada",
		Description: "Ran the community stand at the fair",
		Points:      25,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	approved, err := s.Approve(ctx, r.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved || approved.DecidedAt == nil {
		t.Fatalf("unexpected approved request: %+v", approved)
	}

	if got := mustSelectPoints(t, pool, schema, memberID); got != 125 {
		t.Fatalf("expected 125 points after approval, got %d", got)
	}

	// Double approval must fail and must not credit again.
	_, err = s.Approve(ctx, r.ID, time.Now().UTC())
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got: %v", err)
	}
	if got := mustSelectPoints(t, pool, schema, memberID); got != 125 {
		t.Fatalf("double approval changed points: got %d", got)
	}
}

func TestPostgresStore_Reject_LeavesPointsUntouched(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyRequestSchema(t, pool, schema)

	s := mustNewRequestStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	memberID := mustInsertTestMember(t, pool, schema, 40)

	r, err := s.Submit(ctx, SubmitRecord{
		ID:          mustNewTestULID(t),
		MemberID:    memberID,
		MemberName:  "Ada",
		Description: "Claimed points for attending a meeting",
		Points:      99,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rejected, err := s.Reject(ctx, r.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("expected rejected, got %q", rejected.Status)
	}
	if got := mustSelectPoints(t, pool, schema, memberID); got != 40 {
		t.Fatalf("reject changed points: got %d", got)
	}

	_, err = s.Approve(ctx, r.ID, time.Now().UTC())
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after reject, got: %v", err)
	}

	_, err = s.Reject(ctx, mustNewTestULID(t), time.Now().UTC())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestPostgresStore_List_FiltersByStatus(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyRequestSchema(t, pool, schema)

	s := mustNewRequestStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	memberID := mustInsertTestMember(t, pool, schema, 0)

	var firstID string
	for i := 0; i < 3; i++ {
		r, err := s.Submit(ctx, SubmitRecord{
			ID:          mustNewTestULID(t),
			MemberID:    memberID,
			MemberName:  "Ada",
			Description: fmt.Sprintf("Did useful thing number %d", i),
			Points:      5,
			CreatedAt:   time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if i == 0 {
			firstID = r.ID
		}
	}

	if _, err := s.Reject(ctx, firstID, time.Now().UTC()); err != nil {
		t.Fatalf("reject: %v", err)
	}

	pending := StatusPending
	got, err := s.List(ctx, &pending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(got))
	}
	// Newest first.
	if !got[0].CreatedAt.After(got[1].CreatedAt) {
		t.Fatalf("expected newest first: %v then %v", got[0].CreatedAt, got[1].CreatedAt)
	}

	all, err := s.List(ctx, nil)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 total, got %d", len(all))
	}
}

// ---- helpers ----

func mustNewRequestStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
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

func mustApplyRequestSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	members := pgIdent(schema, "members")
	requests := pgIdent(schema, "point_requests")

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
  member_name TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL,
  points INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  decided_at TIMESTAMPTZ NULL,

  CONSTRAINT chk_point_requests_points_positive CHECK (points > 0),
  CONSTRAINT chk_point_requests_status CHECK (status IN ('pending', 'approved', 'rejected'))
);

CREATE INDEX IF NOT EXISTS idx_point_requests_status
  ON %s (status, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_point_requests_member_id
  ON %s (member_id, created_at DESC);
`, members, requests, members, requests, requests)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustInsertTestMember(t *testing.T, pool *pgxpool.Pool, schema string, points int) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := mustNewTestULID(t)
	members := pgIdent(schema, "members")
	_, err := pool.Exec(ctx,
		`INSERT INTO `+members+` (id, name, email, email_norm, points, role)
		 VALUES ($1, $2, $3, $3, $4, 'member')`,
		id, "Member "+id, strings.ToLower(id)+"@example.com", points,
	)
	if err != nil {
		t.Fatalf("insert member: %v", err)
	}
	return id
}

func mustSelectPoints(t *testing.T, pool *pgxpool.Pool, schema, memberID string) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	members := pgIdent(schema, "members")
	var points int
	if err := pool.QueryRow(ctx, `SELECT points FROM `+members+` WHERE id = $1`, memberID).Scan(&points); err != nil {
		t.Fatalf("select points: %v", err)
	}
	return points
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
