package member

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used when no database is configured
// (dev mode) and by unit tests.
type MemoryStore struct {
	log *slog.Logger

	mu      sync.Mutex
	byID    map[string]*memRecord
	byEmail map[string]string // email_norm -> id
}

type memRecord struct {
	member       Member
	passwordHash string
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryStore{
		log:     log,
		byID:    make(map[string]*memRecord),
		byEmail: make(map[string]string),
	}
}

// Upsert creates or fully overwrites the profile keyed by ID.
func (s *MemoryStore) Upsert(ctx context.Context, in UpsertInput) (Member, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byEmail[emailNorm]; ok && owner != id {
		return Member{}, ConflictError{Op: op, Field: "email"}
	}

	rec, exists := s.byID[id]
	if !exists {
		rec = &memRecord{}
		rec.member.CreatedAt = now
		s.byID[id] = rec
	} else if oldNorm := NormalizeEmail(rec.member.Email); oldNorm != emailNorm {
		delete(s.byEmail, oldNorm)
	}

	rec.member.ID = id
	rec.member.Name = name
	rec.member.Email = email
	rec.member.Points = in.Points
	rec.member.Role = role
	rec.member.UpdatedAt = now
	if hash := strings.TrimSpace(in.PasswordHash); hash != "" {
		rec.passwordHash = hash
	}
	s.byEmail[emailNorm] = id

	return rec.member, nil
}

// GetByID returns the profile or ErrNotFound.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (Member, error) {
	const op = "member.GetByID"

	if err := ctx.Err(); err != nil {
		return Member{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Member{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing id"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Member{}, OpError{Op: op, Kind: ErrNotFound}
	}
	return rec.member, nil
}

// GetByEmailForLogin returns the profile and its stored password hash.
func (s *MemoryStore) GetByEmailForLogin(ctx context.Context, email string) (Member, string, error) {
	const op = "member.GetByEmailForLogin"

	if err := ctx.Err(); err != nil {
		return Member{}, "", err
	}
	emailNorm := NormalizeEmail(email)
	if emailNorm == "" {
		return Member{}, "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing email"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[emailNorm]
	if !ok {
		return Member{}, "", OpError{Op: op, Kind: ErrNotFound}
	}
	rec := s.byID[id]
	if rec == nil || rec.passwordHash == "" {
		return Member{}, "", OpError{Op: op, Kind: ErrNotFound}
	}
	return rec.member, rec.passwordHash, nil
}

// ListByPoints returns all members ordered by points descending.
func (s *MemoryStore) ListByPoints(ctx context.Context) ([]Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Member, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, rec.member)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	return out, nil
}

// AddPoints atomically increments a member's point total.
func (s *MemoryStore) AddPoints(ctx context.Context, id string, delta int) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return OpError{Op: op, Kind: ErrNotFound}
	}
	rec.member.Points += delta
	rec.member.UpdatedAt = time.Now().UTC()
	return nil
}
