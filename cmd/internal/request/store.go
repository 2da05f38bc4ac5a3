package request

import (
	"context"
	"time"
)

// SubmitRecord is a fully validated request ready for insertion.
// The Service owns validation; stores only persist.
type SubmitRecord struct {
	ID          string
	MemberID    string
	MemberName  string
	Description string
	Points      int
	CreatedAt   time.Time
}

// Store is the request persistence boundary.
type Store interface {
	// Submit inserts a new pending request.
	Submit(ctx context.Context, in SubmitRecord) (Request, error)

	// List returns requests newest first, optionally filtered by status.
	List(ctx context.Context, status *Status) ([]Request, error)

	// ListForMember returns the member's own requests newest first.
	ListForMember(ctx context.Context, memberID string) ([]Request, error)

	// Approve atomically credits the member and marks the request approved.
	// Either both effects happen or neither does. A non-pending request
	// returns ErrInvalidState and leaves points untouched.
	Approve(ctx context.Context, id string, now time.Time) (Request, error)

	// Reject marks a pending request rejected. Points are never touched.
	Reject(ctx context.Context, id string, now time.Time) (Request, error)
}
