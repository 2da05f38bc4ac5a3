package request

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"leaderlite/cmd/internal/ids"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh topics published after mutations. Dashboards subscribed to a topic
// refetch the matching dataset.
const (
	TopicRequests    = "requests"
	TopicLeaderboard = "leaderboard"
)

// Notifier fans out refresh hints to live dashboard subscribers.
type Notifier interface {
	Publish(topic string)
}

// SubmitInput describes a member's point request submission.
type SubmitInput struct {
	MemberID    string
	MemberName  string
	Description string
	Points      int
	Now         time.Time
}

// Service owns submission validation and decision orchestration.
type Service struct {
	log    *slog.Logger
	store  Store
	notify Notifier

	submitted prometheus.Counter
	approved  prometheus.Counter
	rejected  prometheus.Counter
}

// Option configures the Service.
type Option func(*Service) error

// WithNotifier wires a refresh-hint publisher (typically the realtime hub).
func WithNotifier(n Notifier) Option {
	return func(s *Service) error {
		s.notify = n
		return nil
	}
}

// WithMetrics registers the service counters on reg. A nil registerer keeps
// the counters unregistered, which is what tests want.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Service) error {
		f := promauto.With(reg)
		s.submitted = f.NewCounter(prometheus.CounterOpts{
			Name: "leaderlite_point_requests_submitted_total",
			Help: "Point requests accepted for review.",
		})
		s.approved = f.NewCounter(prometheus.CounterOpts{
			Name: "leaderlite_point_requests_approved_total",
			Help: "Point requests approved by an admin.",
		})
		s.rejected = f.NewCounter(prometheus.CounterOpts{
			Name: "leaderlite_point_requests_rejected_total",
			Help: "Point requests rejected by an admin.",
		})
		return nil
	}
}

// NewService constructs a Service.
func NewService(log *slog.Logger, store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{log: log, store: store}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.submitted == nil {
		if err := WithMetrics(nil)(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Submit validates and stores a new pending request.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}

	memberID := strings.TrimSpace(in.MemberID)
	if memberID == "" {
		return Request{}, ErrInvalidInput
	}

	desc := strings.TrimSpace(in.Description)
	if n := utf8.RuneCountInString(desc); n < DescriptionMinLen {
		return Request{}, ValidationError{Field: "description", Msg: "too short"}
	} else if n > DescriptionMaxLen {
		return Request{}, ValidationError{Field: "description", Msg: "too long"}
	}
	if in.Points < PointsMin || in.Points > PointsMax {
		return Request{}, ValidationError{Field: "points", Msg: "out of range"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Request{}, err
	}

	r, err := s.store.Submit(ctx, SubmitRecord{
		ID:          id,
		MemberID:    memberID,
		MemberName:  strings.TrimSpace(in.MemberName),
		Description: desc,
		Points:      in.Points,
		CreatedAt:   now,
	})
	if err != nil {
		return Request{}, err
	}

	s.submitted.Inc()
	s.log.Info("request.submitted", "request_id", r.ID, "member_id", r.MemberID, "points", r.Points)
	s.publish(TopicRequests)
	return r, nil
}

// Approve credits the member and marks the request approved.
func (s *Service) Approve(ctx context.Context, id string) (Request, error) {
	r, err := s.store.Approve(ctx, id, time.Now().UTC())
	if err != nil {
		return Request{}, err
	}

	s.approved.Inc()
	s.log.Info("request.approved", "request_id", r.ID, "member_id", r.MemberID, "points", r.Points)
	s.publish(TopicRequests)
	s.publish(TopicLeaderboard)
	return r, nil
}

// Reject marks the request rejected without touching points.
func (s *Service) Reject(ctx context.Context, id string) (Request, error) {
	r, err := s.store.Reject(ctx, id, time.Now().UTC())
	if err != nil {
		return Request{}, err
	}

	s.rejected.Inc()
	s.log.Info("request.rejected", "request_id", r.ID, "member_id", r.MemberID)
	s.publish(TopicRequests)
	return r, nil
}

// List returns requests newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status *Status) ([]Request, error) {
	return s.store.List(ctx, status)
}

// ListForMember returns the member's own requests newest first.
func (s *Service) ListForMember(ctx context.Context, memberID string) ([]Request, error) {
	return s.store.ListForMember(ctx, memberID)
}

func (s *Service) publish(topic string) {
	if s.notify == nil {
		return
	}
	s.notify.Publish(topic)
}
