package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authapi "leaderlite/cmd/internal/auth/api"
	"leaderlite/cmd/internal/auth/session"
	"leaderlite/cmd/internal/request"
	"leaderlite/cmd/member"
)

const testAccessCookie = "leaderlite_access"

type fixture struct {
	mux      *http.ServeMux
	members  *member.MemoryStore
	requests *request.Service
	sessions *session.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	members := member.NewMemoryStore(nil)

	sessCfg := session.DefaultConfig()
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	sessions := session.NewService(sessCfg, session.NewMemoryStore(), tokens)

	reqStore, err := request.NewMemoryStore(nil, members)
	if err != nil {
		t.Fatalf("request store: %v", err)
	}
	requests, err := request.NewService(nil, reqStore)
	if err != nil {
		t.Fatalf("request service: %v", err)
	}

	h, err := NewHandler(nil, authapi.NewIdentity(sessions, members, testAccessCookie), members, requests)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return &fixture{mux: mux, members: members, requests: requests, sessions: sessions}
}

// addMember creates a profile and returns an access cookie for it.
func (f *fixture) addMember(t *testing.T, id, name string, role member.Role, points int) *http.Cookie {
	t.Helper()

	ctx := context.Background()
	_, err := f.members.Upsert(ctx, member.UpsertInput{
		ID: id, Name: name, Email: id + "@example.com", Points: points, Role: role,
	})
	if err != nil {
		t.Fatalf("upsert %s: %v", id, err)
	}

	issued, err := f.sessions.IssueSession(ctx, time.Now().UTC(), id, session.DeviceContext{})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return &http.Cookie{Name: testAccessCookie, Value: issued.AccessToken}
}

func (f *fixture) get(t *testing.T, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func wantRedirect(t *testing.T, rr *httptest.ResponseRecorder, to string) {
	t.Helper()
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != to {
		t.Fatalf("expected redirect to %s, got %s", to, loc)
	}
}

func TestAnonymousRouting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	wantRedirect(t, f.get(t, "/", nil), "/auth/login")
	wantRedirect(t, f.get(t, "/member", nil), "/auth/login")
	wantRedirect(t, f.get(t, "/admin", nil), "/auth/login")

	rr := f.get(t, "/auth/login", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Sign in") {
		t.Fatalf("expected login page, got %d", rr.Code)
	}
	rr = f.get(t, "/auth/signup", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Create account") {
		t.Fatalf("expected signup page, got %d", rr.Code)
	}
}

func TestMemberRouting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cookie := f.addMember(t, "m1", "Grace", member.RoleMember, 40)

	wantRedirect(t, f.get(t, "/", cookie), "/member")
	wantRedirect(t, f.get(t, "/admin", cookie), "/member")
	wantRedirect(t, f.get(t, "/auth/login", cookie), "/member")

	rr := f.get(t, "/member", cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Grace") || !strings.Contains(body, "Request points") {
		t.Fatalf("member page missing expected content")
	}
}

func TestAdminRouting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cookie := f.addMember(t, "a1", "Ada", member.RoleAdmin, 0)

	wantRedirect(t, f.get(t, "/", cookie), "/admin")

	rr := f.get(t, "/admin", cookie)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Pending requests") {
		t.Fatalf("expected admin page, got %d", rr.Code)
	}

	// Admins may view the member dashboard too.
	if rr := f.get(t, "/member", cookie); rr.Code != http.StatusOK {
		t.Fatalf("admin on /member: expected 200, got %d", rr.Code)
	}
}

func TestMemberPageShowsOwnRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cookie := f.addMember(t, "m1", "Grace", member.RoleMember, 0)

	_, err := f.requests.Submit(context.Background(), request.SubmitInput{
		MemberID:    "m1",
		MemberName:  "Grace",
		Description: "Hosted the study group",
		Points:      20,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rr := f.get(t, "/member", cookie)
	body := rr.Body.String()
	if !strings.Contains(body, "Hosted the study group") || !strings.Contains(body, "pending") {
		t.Fatalf("expected submitted request on dashboard")
	}
}

func TestAdminPageListsPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addMember(t, "m1", "Grace", member.RoleMember, 0)
	cookie := f.addMember(t, "a1", "Ada", member.RoleAdmin, 0)

	req, err := f.requests.Submit(context.Background(), request.SubmitInput{
		MemberID:    "m1",
		MemberName:  "Grace",
		Description: "Wrote the onboarding guide",
		Points:      35,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rr := f.get(t, "/admin", cookie)
	body := rr.Body.String()
	if !strings.Contains(body, "Wrote the onboarding guide") || !strings.Contains(body, req.ID) {
		t.Fatalf("expected pending request on admin page")
	}

	// Decided requests leave the pending table.
	if _, err := f.requests.Approve(context.Background(), req.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	rr = f.get(t, "/admin", cookie)
	if strings.Contains(rr.Body.String(), "Wrote the onboarding guide") {
		t.Fatalf("approved request still listed as pending")
	}
}
