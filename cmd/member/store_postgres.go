package member

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Design notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - Schema/table identifiers are safely quoted.
//   - Upsert writes profile and credential in one transaction.
//   - Errors are mapped to member sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	log    *slog.Logger
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "leaderlite").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("member: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, log *slog.Logger, opts ...PostgresOption) (*PostgresStore, error) {
	if log == nil {
		log = slog.Default()
	}
	st := &PostgresStore{
		pool:   pool,
		log:    log,
		schema: "leaderlite",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("member: nil pool")
	}
	return st, nil
}

// Upsert creates or overwrites a member profile (and credential, when given)
// in a single transaction.
func (s *PostgresStore) Upsert(ctx context.Context, in UpsertInput) (Member, error) {
	const op = "member.Upsert"

	if err := ctx.Err(); err != nil {
		return Member{}, err
	}

	id := strings.TrimSpace(in.ID)
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if id == "" || name == "" || email == "" {
		return Member{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "id, name and email are required"}
	}
	if in.Points < 0 {
		return Member{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "negative points"}
	}
	role := in.Role
	if role == "" {
		role = RoleMember
	}
	if role != RoleMember && role != RoleAdmin {
		return Member{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown role"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	emailNorm := NormalizeEmail(email)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Member{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	members := pgIdent(s.schema, "members")
	creds := pgIdent(s.schema, "member_credentials")

	var out Member
	err = tx.QueryRow(ctx,
		`INSERT INTO `+members+` (
		     id, name, email, email_norm, points, role, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		   ON CONFLICT (id) DO UPDATE SET
		     name = EXCLUDED.name,
		     email = EXCLUDED.email,
		     email_norm = EXCLUDED.email_norm,
		     points = EXCLUDED.points,
		     role = EXCLUDED.role,
		     updated_at = EXCLUDED.updated_at
		   RETURNING id, name, email, points, role, created_at, updated_at`,
		id, name, email, emailNorm, in.Points, string(role), now,
	).Scan(&out.ID, &out.Name, &out.Email, &out.Points, &out.Role, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Member{}, ConflictError{Op: op, Field: "email"}
		}
		return Member{}, err
	}

	if hash := strings.TrimSpace(in.PasswordHash); hash != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO `+creds+` (member_id, password_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $3)
			 ON CONFLICT (member_id) DO UPDATE SET
			   password_hash = EXCLUDED.password_hash,
			   updated_at = EXCLUDED.updated_at`,
			id, hash, now,
		)
		if err != nil {
			return Member{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Member{}, err
	}

	return out, nil
}

// GetByID returns the profile or ErrNotFound.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Member, error) {
	const op = "member.GetByID"

	if err := ctx.Err(); err != nil {
		return Member{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Member{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing id"}
	}

	members := pgIdent(s.schema, "members")

	var out Member
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, points, role, created_at, updated_at
		   FROM `+members+`
		  WHERE id = $1`,
		id,
	).Scan(&out.ID, &out.Name, &out.Email, &out.Points, &out.Role, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, OpError{Op: op, Kind: ErrNotFound}
		}
		return Member{}, err
	}
	return out, nil
}

// GetByEmailForLogin returns the profile and its stored password hash.
func (s *PostgresStore) GetByEmailForLogin(ctx context.Context, email string) (Member, string, error) {
	const op = "member.GetByEmailForLogin"

	if err := ctx.Err(); err != nil {
		return Member{}, "", err
	}
	emailNorm := NormalizeEmail(email)
	if emailNorm == "" {
		return Member{}, "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing email"}
	}

	members := pgIdent(s.schema, "members")
	creds := pgIdent(s.schema, "member_credentials")

	var (
		out  Member
		hash string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT m.id, m.name, m.email, m.points, m.role, m.created_at, m.updated_at,
		        c.password_hash
		   FROM `+members+` m
		   JOIN `+creds+` c ON c.member_id = m.id
		  WHERE m.email_norm = $1`,
		emailNorm,
	).Scan(&out.ID, &out.Name, &out.Email, &out.Points, &out.Role, &out.CreatedAt, &out.UpdatedAt, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, "", OpError{Op: op, Kind: ErrNotFound}
		}
		return Member{}, "", err
	}
	return out, hash, nil
}

// ListByPoints returns all members ordered by points descending.
func (s *PostgresStore) ListByPoints(ctx context.Context) ([]Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	members := pgIdent(s.schema, "members")

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, points, role, created_at, updated_at
		   FROM `+members+`
		  ORDER BY points DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Points, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddPoints atomically increments a member's point total.
// A non-positive delta is a warn-logged no-op per the approval contract:
// only approved requests may move points, and they always carry delta >= 1.
func (s *PostgresStore) AddPoints(ctx context.Context, id string, delta int) error {
	const op = "member.AddPoints"

	if err := ctx.Err(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing id"}
	}
	if delta <= 0 {
		s.log.Warn("member.add_points.non_positive_delta", "member_id", id, "delta", delta)
		return nil
	}

	members := pgIdent(s.schema, "members")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+members+`
		    SET points = points + $1,
		        updated_at = $2
		  WHERE id = $3`,
		delta, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return OpError{Op: op, Kind: ErrNotFound}
	}
	return nil
}

// ---- helpers ----

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
