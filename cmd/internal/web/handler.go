// Package web renders the server-side pages: auth forms and the member
// and admin dashboards. Routing decisions are made per request with the
// same policy the websocket guard uses, so a member typing /admin into
// the address bar is redirected before any admin data is fetched.
package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	authapi "leaderlite/cmd/internal/auth/api"
	"leaderlite/cmd/internal/auth/guard"
	"leaderlite/cmd/internal/request"
	"leaderlite/cmd/member"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var pages = []string{"login", "signup", "member", "admin"}

// Handler serves the HTML pages.
type Handler struct {
	log      *slog.Logger
	identity *authapi.Identity
	members  member.Store
	requests *request.Service

	tmpl map[string]*template.Template
}

type boardRow struct {
	Rank     int
	MemberID string
	Name     string
	Points   int
}

type pageData struct {
	Title  string
	Member *member.Member

	Leaderboard []boardRow
	MyRequests  []request.Request
	Pending     []request.Request
}

// NewHandler parses the embedded templates and constructs the Handler.
func NewHandler(log *slog.Logger, identity *authapi.Identity, members member.Store, requests *request.Service) (*Handler, error) {
	if identity == nil || members == nil || requests == nil {
		return nil, errors.New("web: nil identity, member store, or request service")
	}
	if log == nil {
		log = slog.Default()
	}

	tmpl := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		tmpl[page] = t
	}

	return &Handler{log: log, identity: identity, members: members, requests: requests, tmpl: tmpl}, nil
}

// Register mounts the page routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	staticRoot, err := fs.Sub(staticFS, "static")
	if err == nil {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticRoot)))
	}

	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /auth/login", h.handleAuthPage("login", "Sign in"))
	mux.HandleFunc("GET /auth/signup", h.handleAuthPage("signup", "Sign up"))
	mux.HandleFunc("GET /member", h.handleMember)
	mux.HandleFunc("GET /admin", h.handleAdmin)
}

// session resolves the cookie-authenticated caller, if any.
func (h *Handler) session(r *http.Request) (member.Member, bool) {
	m, _, err := h.identity.Resolve(r)
	if err != nil {
		return member.Member{}, false
	}
	return m, true
}

// gate applies the routing policy for path. It reports whether the
// request may proceed, redirecting otherwise.
func (h *Handler) gate(w http.ResponseWriter, r *http.Request) (member.Member, bool) {
	m, authed := h.session(r)
	d := guard.Decide(authed, m.Role, r.URL.Path)
	if !d.Allow {
		http.Redirect(w, r, d.Redirect, http.StatusFound)
		return member.Member{}, false
	}
	return m, true
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	m, authed := h.session(r)
	if !authed {
		http.Redirect(w, r, guard.PathLogin, http.StatusFound)
		return
	}
	http.Redirect(w, r, guard.HomeFor(m.Role), http.StatusFound)
}

func (h *Handler) handleAuthPage(page, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.gate(w, r); !ok {
			return
		}
		h.render(w, page, pageData{Title: title})
	}
}

func (h *Handler) handleMember(w http.ResponseWriter, r *http.Request) {
	m, ok := h.gate(w, r)
	if !ok {
		return
	}

	board, err := h.members.ListByPoints(r.Context())
	if err != nil {
		h.log.Error("web.member.leaderboard_failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	mine, err := h.requests.ListForMember(r.Context(), m.ID)
	if err != nil {
		h.log.Error("web.member.requests_failed", "member_id", m.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.render(w, "member", pageData{
		Title:       "Member dashboard",
		Member:      &m,
		Leaderboard: toBoardRows(board),
		MyRequests:  mine,
	})
}

func (h *Handler) handleAdmin(w http.ResponseWriter, r *http.Request) {
	m, ok := h.gate(w, r)
	if !ok {
		return
	}

	pending := request.StatusPending
	waiting, err := h.requests.List(r.Context(), &pending)
	if err != nil {
		h.log.Error("web.admin.requests_failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	board, err := h.members.ListByPoints(r.Context())
	if err != nil {
		h.log.Error("web.admin.leaderboard_failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.render(w, "admin", pageData{
		Title:       "Admin dashboard",
		Member:      &m,
		Pending:     waiting,
		Leaderboard: toBoardRows(board),
	})
}

// render executes to a buffer first so a template failure yields a clean
// 500 instead of a half-written page.
func (h *Handler) render(w http.ResponseWriter, page string, data pageData) {
	var buf bytes.Buffer
	if err := h.tmpl[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.log.Error("web.render_failed", "page", page, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func toBoardRows(members []member.Member) []boardRow {
	rows := make([]boardRow, 0, len(members))
	for i, m := range members {
		rows = append(rows, boardRow{Rank: i + 1, MemberID: m.ID, Name: m.Name, Points: m.Points})
	}
	return rows
}
