package board

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	authapi "leaderlite/cmd/internal/auth/api"
	"leaderlite/cmd/internal/request"
	"leaderlite/cmd/member"
)

const defaultMaxBodyBytes = 64 << 10

// Handler serves /api/leaderboard and /api/requests.
type Handler struct {
	log      *slog.Logger
	identity *authapi.Identity
	members  member.Store
	requests *request.Service

	maxBodyBytes int64
	now          func() time.Time
}

// NewHandler constructs the board API handler.
func NewHandler(log *slog.Logger, identity *authapi.Identity, members member.Store, requests *request.Service) (*Handler, error) {
	if identity == nil || members == nil || requests == nil {
		return nil, errors.New("board: nil identity, member store, or request service")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:          log,
		identity:     identity,
		members:      members,
		requests:     requests,
		maxBodyBytes: defaultMaxBodyBytes,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register mounts the board routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/leaderboard", h.handleLeaderboard)
	mux.HandleFunc("POST /api/requests", h.handleSubmit)
	mux.HandleFunc("GET /api/requests", h.handleListRequests)
	mux.HandleFunc("GET /api/requests/mine", h.handleMyRequests)
	mux.HandleFunc("POST /api/requests/{id}/approve", h.handleApprove)
	mux.HandleFunc("POST /api/requests/{id}/reject", h.handleReject)
}

// requireMember authenticates the caller. The profile comes from the
// member store, so the role is the stored one.
func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request) (member.Member, bool) {
	m, _, err := h.identity.Resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "sign in first")
		return member.Member{}, false
	}
	return m, true
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (member.Member, bool) {
	m, ok := h.requireMember(w, r)
	if !ok {
		return member.Member{}, false
	}
	if m.Role != member.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin_required", "this operation requires the admin role")
		return member.Member{}, false
	}
	return m, true
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireMember(w, r); !ok {
		return
	}
	members, err := h.members.ListByPoints(r.Context())
	if err != nil {
		h.log.Error("board.leaderboard.list_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, toLeaderboard(members))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	m, ok := h.requireMember(w, r)
	if !ok {
		return
	}

	var body submitRequestBody
	if err := decodeJSON(w, r, &body, h.maxBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "malformed request body")
		return
	}

	req, err := h.requests.Submit(r.Context(), request.SubmitInput{
		MemberID:    m.ID,
		MemberName:  m.Name,
		Description: body.Description,
		Points:      body.Points,
		Now:         h.now(),
	})
	if err != nil {
		var ve request.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, "validation_failed", ve.Field+": "+ve.Msg)
			return
		}
		if errors.Is(err, request.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_input", "request could not be accepted")
			return
		}
		h.log.Error("board.submit_failed", "member_id", m.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not submit request")
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(req))
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	var filter *request.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := request.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be pending, approved, or rejected")
			return
		}
		filter = &st
	}

	reqs, err := h.requests.List(r.Context(), filter)
	if err != nil {
		h.log.Error("board.list_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not load requests")
		return
	}
	writeJSON(w, http.StatusOK, toRequestList(reqs))
}

func (h *Handler) handleMyRequests(w http.ResponseWriter, r *http.Request) {
	m, ok := h.requireMember(w, r)
	if !ok {
		return
	}
	reqs, err := h.requests.ListForMember(r.Context(), m.ID)
	if err != nil {
		h.log.Error("board.list_mine_failed", "member_id", m.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not load requests")
		return
	}
	writeJSON(w, http.StatusOK, toRequestList(reqs))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.requests.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.requests.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (request.Request, error)) {
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	req, err := op(r.Context(), id)
	switch {
	case request.IsNotFound(err):
		writeError(w, http.StatusNotFound, "request_not_found", "no such request")
		return
	case request.IsInvalidState(err):
		writeError(w, http.StatusConflict, "already_decided", "request is no longer pending")
		return
	case errors.Is(err, request.ErrInvalidPoints):
		writeError(w, http.StatusConflict, "invalid_points", "request carries an invalid point value")
		return
	case err != nil:
		h.log.Error("board.decide_failed", "request_id", id, "admin_id", admin.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not decide request")
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}
