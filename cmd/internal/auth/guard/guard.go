package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"leaderlite/cmd/member"
)

// State is the explicit session context a guard carries between events.
// It is what the decision logic sees; nothing is read from globals.
type State struct {
	Authenticated bool
	MemberID      string
	Role          member.Role
	Path          string
}

// Navigator receives the guard's instructions for one client.
type Navigator interface {
	// Navigate moves the client to path.
	Navigate(path string)
	// SignOut terminates the client's session with a reason code.
	SignOut(reason string)
}

// Event is an input to the guard loop.
type Event interface{ isEvent() }

// AuthChanged reports a login, logout, or session expiry.
type AuthChanged struct {
	Authenticated bool
	MemberID      string
}

// PathChanged reports client navigation.
type PathChanged struct {
	Path string
}

func (AuthChanged) isEvent() {}
func (PathChanged) isEvent() {}

const defaultEventBuffer = 16

// Guard owns the routing state for one client connection.
//
// Events are queued on a channel and consumed by the single goroutine inside
// Run. Each event is handled to completion (role lookup, decision, navigation)
// before the next one is read, so decisions cannot interleave.
type Guard struct {
	log   *slog.Logger
	roles RoleVerifier
	nav   Navigator

	events chan Event

	mu    sync.Mutex
	state State
}

// New constructs a Guard starting at the root path, unauthenticated.
func New(log *slog.Logger, roles RoleVerifier, nav Navigator) (*Guard, error) {
	if roles == nil || nav == nil {
		return nil, errors.New("guard: nil verifier or navigator")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		log:    log,
		roles:  roles,
		nav:    nav,
		events: make(chan Event, defaultEventBuffer),
		state:  State{Path: PathRoot},
	}, nil
}

// State returns a snapshot of the current session context.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Send queues an event for the guard loop. It blocks if the buffer is full,
// which keeps event order intact under bursts.
func (g *Guard) Send(ctx context.Context, ev Event) error {
	select {
	case g.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes events until ctx is cancelled. It is the only goroutine that
// mutates guard state.
func (g *Guard) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-g.events:
			g.handle(ctx, ev)
		}
	}
}

func (g *Guard) handle(ctx context.Context, ev Event) {
	g.mu.Lock()
	st := g.state
	g.mu.Unlock()

	switch e := ev.(type) {
	case AuthChanged:
		st.Authenticated = e.Authenticated
		st.MemberID = e.MemberID
		st.Role = ""
	case PathChanged:
		st.Path = normalizePath(e.Path)
	}

	if st.Authenticated {
		role, err := g.roles.VerifyRole(ctx, st.MemberID)
		switch {
		case errors.Is(err, ErrProfileMissing):
			// An identity without a profile must not stay signed in.
			g.log.Warn("guard.profile_missing", "member_id", st.MemberID)
			g.nav.SignOut("profile_missing")
			st = State{Path: PathLogin}
			g.setState(st)
			g.nav.Navigate(PathLogin)
			return
		case err != nil:
			// A session whose role cannot be verified must not keep its
			// access; sign out rather than guess.
			g.log.Error("guard.role_lookup_failed", "member_id", st.MemberID, "err", err)
			g.nav.SignOut("role_lookup_failed")
			st = State{Path: PathLogin}
			g.setState(st)
			g.nav.Navigate(PathLogin)
			return
		}
		st.Role = role
	}

	d := Decide(st.Authenticated, st.Role, st.Path)
	if !d.Allow {
		st.Path = d.Redirect
		g.setState(st)
		g.nav.Navigate(d.Redirect)
		return
	}
	g.setState(st)
}

func (g *Guard) setState(st State) {
	g.mu.Lock()
	g.state = st
	g.mu.Unlock()
}
