package request

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// PointsLedger is the slice of the member store the memory store needs to
// credit points on approval. Satisfied by member.Store.
type PointsLedger interface {
	AddPoints(ctx context.Context, memberID string, delta int) error
}

// MemoryStore is the in-memory Store used when no database is configured
// (dev mode) and by unit tests.
//
// Approval order differs from PostgresStore by necessity: points are
// credited through the ledger first, then the status flips under the lock.
// If the ledger write fails the request stays pending.
type MemoryStore struct {
	log    *slog.Logger
	ledger PointsLedger

	mu   sync.Mutex
	byID map[string]*Request
}

// NewMemoryStore constructs an in-memory Store crediting points via ledger.
func NewMemoryStore(log *slog.Logger, ledger PointsLedger) (*MemoryStore, error) {
	if ledger == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	return &MemoryStore{
		log:    log,
		ledger: ledger,
		byID:   make(map[string]*Request),
	}, nil
}

// Submit inserts a new pending request.
func (s *MemoryStore) Submit(ctx context.Context, in SubmitRecord) (Request, error) {
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.MemberID) == "" {
		return Request{}, ErrInvalidInput
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	r := Request{
		ID:          in.ID,
		MemberID:    in.MemberID,
		MemberName:  in.MemberName,
		Description: in.Description,
		Points:      in.Points,
		Status:      StatusPending,
		CreatedAt:   in.CreatedAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.ID]; exists {
		return Request{}, ErrInvalidInput
	}
	s.byID[r.ID] = &r
	return r, nil
}

// List returns requests newest first, optionally filtered by status.
func (s *MemoryStore) List(ctx context.Context, status *Status) ([]Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Request, 0, len(s.byID))
	for _, r := range s.byID {
		if status != nil && r.Status != *status {
			continue
		}
		out = append(out, *r)
	}
	s.mu.Unlock()

	sortNewestFirst(out)
	return out, nil
}

// ListForMember returns the member's own requests newest first.
func (s *MemoryStore) ListForMember(ctx context.Context, memberID string) ([]Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	var out []Request
	for _, r := range s.byID {
		if r.MemberID == memberID {
			out = append(out, *r)
		}
	}
	s.mu.Unlock()

	sortNewestFirst(out)
	return out, nil
}

// Approve credits the member through the ledger and marks the request approved.
func (s *MemoryStore) Approve(ctx context.Context, id string, now time.Time) (Request, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if r.Status != StatusPending {
		return Request{}, ErrInvalidState
	}
	if r.Points <= 0 {
		return Request{}, ErrInvalidPoints
	}

	if err := s.ledger.AddPoints(ctx, r.MemberID, r.Points); err != nil {
		return Request{}, err
	}

	r.Status = StatusApproved
	decidedAt := now
	r.DecidedAt = &decidedAt
	return *r, nil
}

// Reject marks a pending request rejected. Points are never touched.
func (s *MemoryStore) Reject(ctx context.Context, id string, now time.Time) (Request, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if r.Status != StatusPending {
		return Request{}, ErrInvalidState
	}

	r.Status = StatusRejected
	decidedAt := now
	r.DecidedAt = &decidedAt
	return *r, nil
}

func sortNewestFirst(rs []Request) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID > rs[j].ID
	})
}
