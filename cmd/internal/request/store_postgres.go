package request

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists point requests in PostgreSQL.
//
// Approve runs as a single transaction over the point_requests and members
// tables: the request row is locked FOR UPDATE, re-checked, flipped to
// approved, and the member's points are credited before commit.
type PostgresStore struct {
	pool   *pgxpool.Pool
	log    *slog.Logger
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "leaderlite").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, log *slog.Logger, opts ...StoreOption) (*PostgresStore, error) {
	if log == nil {
		log = slog.Default()
	}
	st := &PostgresStore{pool: pool, log: log, schema: "leaderlite"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// Submit inserts a new pending request.
func (s *PostgresStore) Submit(ctx context.Context, in SubmitRecord) (Request, error) {
	if s == nil || s.pool == nil {
		return Request{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.MemberID) == "" {
		return Request{}, ErrInvalidInput
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	requests := pgIdent(s.schema, "point_requests")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+requests+` (
		     id, member_id, member_name, description, points, status, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ID, in.MemberID, in.MemberName, in.Description, in.Points, string(StatusPending), in.CreatedAt,
	)
	if err != nil {
		return Request{}, err
	}

	return Request{
		ID:          in.ID,
		MemberID:    in.MemberID,
		MemberName:  in.MemberName,
		Description: in.Description,
		Points:      in.Points,
		Status:      StatusPending,
		CreatedAt:   in.CreatedAt,
	}, nil
}

// List returns requests newest first, optionally filtered by status.
func (s *PostgresStore) List(ctx context.Context, status *Status) ([]Request, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	requests := pgIdent(s.schema, "point_requests")

	sql := `SELECT id, member_id, member_name, description, points, status, created_at, decided_at
	          FROM ` + requests
	args := []any{}
	if status != nil {
		sql += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	sql += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRequests(rows)
}

// ListForMember returns the member's own requests newest first.
func (s *PostgresStore) ListForMember(ctx context.Context, memberID string) ([]Request, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, ErrInvalidInput
	}

	requests := pgIdent(s.schema, "point_requests")

	rows, err := s.pool.Query(ctx,
		`SELECT id, member_id, member_name, description, points, status, created_at, decided_at
		   FROM `+requests+`
		  WHERE member_id = $1
		  ORDER BY created_at DESC, id DESC`,
		memberID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRequests(rows)
}

// Approve atomically credits the member and marks the request approved.
func (s *PostgresStore) Approve(ctx context.Context, id string, now time.Time) (Request, error) {
	if s == nil || s.pool == nil {
		return Request{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Request{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Request{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	requests := pgIdent(s.schema, "point_requests")
	members := pgIdent(s.schema, "members")

	// Lock the row so concurrent decisions serialize; the loser sees the
	// flipped status and gets ErrInvalidState.
	var out Request
	err = tx.QueryRow(ctx,
		`SELECT id, member_id, member_name, description, points, status, created_at, decided_at
		   FROM `+requests+`
		  WHERE id = $1
		    FOR UPDATE`,
		id,
	).Scan(&out.ID, &out.MemberID, &out.MemberName, &out.Description, &out.Points, &out.Status, &out.CreatedAt, &out.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	if out.Status != StatusPending {
		return Request{}, ErrInvalidState
	}
	if out.Points <= 0 {
		return Request{}, ErrInvalidPoints
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+requests+`
		    SET status = $1,
		        decided_at = $2
		  WHERE id = $3`,
		string(StatusApproved), now, id,
	); err != nil {
		return Request{}, err
	}

	ct, err := tx.Exec(ctx,
		`UPDATE `+members+`
		    SET points = points + $1,
		        updated_at = $2
		  WHERE id = $3`,
		out.Points, now, out.MemberID,
	)
	if err != nil {
		return Request{}, err
	}
	if ct.RowsAffected() == 0 {
		return Request{}, ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, err
	}

	out.Status = StatusApproved
	decidedAt := now
	out.DecidedAt = &decidedAt
	return out, nil
}

// Reject marks a pending request rejected.
func (s *PostgresStore) Reject(ctx context.Context, id string, now time.Time) (Request, error) {
	if s == nil || s.pool == nil {
		return Request{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Request{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	requests := pgIdent(s.schema, "point_requests")

	var out Request
	err := s.pool.QueryRow(ctx,
		`UPDATE `+requests+`
		    SET status = $1,
		        decided_at = $2
		  WHERE id = $3
		    AND status = $4
		RETURNING id, member_id, member_name, description, points, status, created_at, decided_at`,
		string(StatusRejected), now, id, string(StatusPending),
	).Scan(&out.ID, &out.MemberID, &out.MemberName, &out.Description, &out.Points, &out.Status, &out.CreatedAt, &out.DecidedAt)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Request{}, err
	}

	// Distinguish not-found vs already-decided.
	var status Status
	selErr := s.pool.QueryRow(ctx,
		`SELECT status FROM `+requests+` WHERE id = $1`,
		id,
	).Scan(&status)
	if selErr != nil {
		if errors.Is(selErr, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, selErr
	}
	return Request{}, ErrInvalidState
}

// ---- helpers ----

func scanRequests(rows pgx.Rows) ([]Request, error) {
	var out []Request
	for rows.Next() {
		var r Request
		if err := rows.Scan(&r.ID, &r.MemberID, &r.MemberName, &r.Description, &r.Points, &r.Status, &r.CreatedAt, &r.DecidedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
