package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"leaderlite/cmd/internal/auth/session"
	"leaderlite/cmd/member"
)

type wsFixture struct {
	hub      *Hub
	members  *member.MemoryStore
	sessions *session.Service
	server   *httptest.Server
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	// The default origin policy rejects clients that send no Origin
	// header, which includes the test dialer.
	t.Setenv("LEADERLITE_WS_ORIGIN_REQUIRED", "false")

	members := member.NewMemoryStore(nil)

	sessCfg := session.DefaultConfig()
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	sessions := session.NewService(sessCfg, session.NewMemoryStore(), tokens)

	hub := NewHub(nil)
	gateway, err := NewWSGateway(nil, hub, sessions, members, nil, "requests", "leaderboard")
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}

	server := httptest.NewServer(gateway)
	t.Cleanup(server.Close)

	return &wsFixture{hub: hub, members: members, sessions: sessions, server: server}
}

func (f *wsFixture) addMember(t *testing.T, id string, role member.Role) string {
	t.Helper()

	ctx := context.Background()
	_, err := f.members.Upsert(ctx, member.UpsertInput{
		ID: id, Name: "Member " + id, Email: id + "@example.com", Role: role,
	})
	if err != nil {
		t.Fatalf("upsert %s: %v", id, err)
	}

	issued, err := f.sessions.IssueSession(ctx, time.Now().UTC(), id, session.DeviceContext{})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return issued.AccessToken
}

func (f *wsFixture) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, f.server.URL, &websocket.DialOptions{
		Subprotocols: []string{SubprotocolV1},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := Envelope{V: ProtocolVersion, Type: typ, ID: "test", TS: time.Now().UTC(), Payload: raw}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// waitForFrame reads frames until one of the wanted type arrives,
// skipping everything else.
func waitForFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) Envelope {
	t.Helper()

	deadline, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(deadline)
		if err != nil {
			t.Fatalf("read while waiting for %q: %v", typ, err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
}

func payloadAs[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return v
}

func TestGateway_AuthLandsOnRoleHome(t *testing.T) {
	f := newWSFixture(t)
	tok := f.addMember(t, "a1", member.RoleAdmin)

	ctx := context.Background()
	conn := f.dial(t, ctx)

	sendFrame(t, ctx, conn, TypeAuth, AuthPayload{AccessToken: tok})

	ack := payloadAs[AuthAckPayload](t, waitForFrame(t, ctx, conn, TypeAuthAck))
	if ack.MemberID != "a1" || ack.Role != "admin" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	redirect := payloadAs[RedirectPayload](t, waitForFrame(t, ctx, conn, TypeRedirect))
	if redirect.Path != "/admin" {
		t.Fatalf("expected redirect to /admin, got %q", redirect.Path)
	}
}

func TestGateway_MemberBouncedFromAdminPath(t *testing.T) {
	f := newWSFixture(t)
	tok := f.addMember(t, "m1", member.RoleMember)

	ctx := context.Background()
	conn := f.dial(t, ctx)

	sendFrame(t, ctx, conn, TypeAuth, AuthPayload{AccessToken: tok})
	waitForFrame(t, ctx, conn, TypeRedirect) // landing on /member

	sendFrame(t, ctx, conn, TypeNavigate, NavigatePayload{Path: "/admin"})
	redirect := payloadAs[RedirectPayload](t, waitForFrame(t, ctx, conn, TypeRedirect))
	if redirect.Path != "/member" {
		t.Fatalf("expected bounce to /member, got %q", redirect.Path)
	}
}

func TestGateway_EmptyTokenSignsOut(t *testing.T) {
	f := newWSFixture(t)
	tok := f.addMember(t, "m1", member.RoleMember)

	ctx := context.Background()
	conn := f.dial(t, ctx)

	sendFrame(t, ctx, conn, TypeAuth, AuthPayload{AccessToken: tok})
	waitForFrame(t, ctx, conn, TypeRedirect)

	sendFrame(t, ctx, conn, TypeAuth, AuthPayload{})
	redirect := payloadAs[RedirectPayload](t, waitForFrame(t, ctx, conn, TypeRedirect))
	if redirect.Path != "/auth/login" {
		t.Fatalf("expected redirect to login, got %q", redirect.Path)
	}
}

func TestGateway_RejectsInvalidToken(t *testing.T) {
	f := newWSFixture(t)

	ctx := context.Background()
	conn := f.dial(t, ctx)

	sendFrame(t, ctx, conn, TypeAuth, AuthPayload{AccessToken: "v4.public.garbage"})
	errFrame := payloadAs[ErrorPayload](t, waitForFrame(t, ctx, conn, TypeError))
	if errFrame.Code != "auth_failed" {
		t.Fatalf("expected auth_failed, got %+v", errFrame)
	}
}

func TestGateway_ForwardsRefreshSignals(t *testing.T) {
	f := newWSFixture(t)

	ctx := context.Background()
	conn := f.dial(t, ctx)

	// Make sure the connection loop is up before publishing.
	sendFrame(t, ctx, conn, TypeAuth, AuthPayload{})
	waitForFrame(t, ctx, conn, TypeAuthAck)

	f.hub.Publish("leaderboard")
	refresh := payloadAs[RefreshPayload](t, waitForFrame(t, ctx, conn, TypeRefresh))
	if refresh.Topic != "leaderboard" {
		t.Fatalf("expected leaderboard refresh, got %q", refresh.Topic)
	}
}

func TestGateway_RejectsMissingSubprotocol(t *testing.T) {
	f := newWSFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, f.server.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") }()

	// The server closes the socket with a protocol error.
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatalf("expected read to fail after protocol rejection")
	}
}

func TestGateway_ReportsBadJSON(t *testing.T) {
	f := newWSFixture(t)

	ctx := context.Background()
	conn := f.dial(t, ctx)

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	errFrame := payloadAs[ErrorPayload](t, waitForFrame(t, ctx, conn, TypeError))
	if errFrame.Code != "bad_json" {
		t.Fatalf("expected bad_json, got %+v", errFrame)
	}
}
