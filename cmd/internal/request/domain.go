package request

import "time"

// Status is the lifecycle state of a point request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a status string from user input (query filters).
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected:
		return Status(s), nil
	default:
		return "", ValidationError{Field: "status", Msg: "unknown status"}
	}
}

// Submission bounds. Description length is counted in runes.
const (
	DescriptionMinLen = 10
	DescriptionMaxLen = 200
	PointsMin         = 1
	PointsMax         = 100
)

// Request is a point request record.
type Request struct {
	ID          string
	MemberID    string
	MemberName  string
	Description string
	Points      int
	Status      Status

	CreatedAt time.Time
	DecidedAt *time.Time
}

// Pending reports whether the request can still be decided.
func (r Request) Pending() bool { return r.Status == StatusPending }
