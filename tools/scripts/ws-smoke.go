// Package main provides a CI-friendly smoke test for the leaderlite realtime
// surface.
//
// It validates:
//   - handshake + subprotocol selection
//   - auth -> auth.ack with the stored role
//   - role-home redirect after auth
//   - refresh fanout after a point-request submission
//   - refresh fanout for both topics after an admin approval
//   - empty auth -> signout redirect to the login page
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "leaderlite.v1"
	protocolVersion    = 1
	maxReadBytes       = 1 << 20 // 1MiB
)

// envelope mirrors the leaderlite.v1 wire framing. The tool keeps its own
// copy of the wire structs, the same way a browser client would.
type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type authPayload struct {
	AccessToken string `json:"access_token"`
}

type authAckPayload struct {
	MemberID string `json:"member_id"`
	Role     string `json:"role"`
}

type redirectPayload struct {
	Path string `json:"path"`
}

type refreshPayload struct {
	Topic string `json:"topic"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan envelope
	errCh chan error
}

type account struct {
	memberID    string
	accessToken string
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "HTTP API base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	suffix := time.Now().UnixNano()

	admin := mustSignup(*apiURL, fmt.Sprintf("smoke-admin-%d@example.com", suffix), "admin", *timeout)
	player := mustSignup(*apiURL, fmt.Sprintf("smoke-member-%d@example.com", suffix), "member", *timeout)

	a := mustConnect(root, "admin", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	m := mustConnect(root, "member", *wsURL, *origin, *timeout)
	defer closeWS(m.conn)

	mustAuth(root, a, admin, "admin", "/admin", *timeout)
	mustAuth(root, m, player, "member", "/member", *timeout)

	if *verbose {
		fmt.Printf("connected: admin=%s member=%s origin=%q\n", admin.memberID, player.memberID, *origin)
	}

	reqID := mustSubmitRequest(*apiURL, player, "smoke test request for realtime fanout", 5, *timeout)
	mustAssertRefresh(root, a, map[string]struct{}{"requests": {}}, *timeout)
	mustAssertRefresh(root, m, map[string]struct{}{"requests": {}}, *timeout)

	mustApproveRequest(*apiURL, admin, reqID, *timeout)
	mustAssertRefresh(root, a, map[string]struct{}{"requests": {}, "leaderboard": {}}, *timeout)
	mustAssertRefresh(root, m, map[string]struct{}{"requests": {}, "leaderboard": {}}, *timeout)

	mustLeaderboardHasPoints(*apiURL, player, 5, *timeout)

	// Empty token is an explicit sign-out; the guard bounces to login.
	mustSignout(root, m, *timeout)

	fmt.Printf("OK: admin=%s member=%s request=%s\n", admin.memberID, player.memberID, reqID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustSignup(apiURL, email, role string, stepTimeout time.Duration) account {
	body, _ := json.Marshal(map[string]any{
		"name":     "Smoke " + role,
		"email":    email,
		"password": "smoke-password-123",
		"role":     role,
	})

	resp := mustHTTP(http.MethodPost, apiURL+"/auth/signup", "", body, stepTimeout)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		fatalf("signup %s: status=%d body=%s", role, resp.StatusCode, b)
	}

	var out struct {
		Member struct {
			ID string `json:"id"`
		} `json:"member"`
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode signup response (%s): %v", role, err)
	}
	if out.Member.ID == "" || out.Session.AccessToken == "" {
		fatalf("signup response missing member or token (%s)", role)
	}
	return account{memberID: out.Member.ID, accessToken: out.Session.AccessToken}
}

func mustSubmitRequest(apiURL string, acct account, description string, points int, stepTimeout time.Duration) string {
	body, _ := json.Marshal(map[string]any{
		"description": description,
		"points":      points,
	})
	resp := mustHTTP(http.MethodPost, apiURL+"/api/requests", acct.accessToken, body, stepTimeout)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		fatalf("submit request: status=%d body=%s", resp.StatusCode, b)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode submit response: %v", err)
	}
	if out.ID == "" {
		fatalf("submit response missing request id")
	}
	return out.ID
}

func mustApproveRequest(apiURL string, acct account, reqID string, stepTimeout time.Duration) {
	resp := mustHTTP(http.MethodPost, apiURL+"/api/requests/"+reqID+"/approve", acct.accessToken, nil, stepTimeout)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fatalf("approve request: status=%d body=%s", resp.StatusCode, b)
	}
}

func mustLeaderboardHasPoints(apiURL string, acct account, want int, stepTimeout time.Duration) {
	resp := mustHTTP(http.MethodGet, apiURL+"/api/leaderboard", acct.accessToken, nil, stepTimeout)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatalf("leaderboard: status=%d", resp.StatusCode)
	}

	var out struct {
		Entries []struct {
			MemberID string `json:"member_id"`
			Points   int    `json:"points"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode leaderboard: %v", err)
	}
	for _, e := range out.Entries {
		if e.MemberID == acct.memberID {
			if e.Points != want {
				fatalf("leaderboard points mismatch: got=%d want=%d", e.Points, want)
			}
			return
		}
	}
	fatalf("leaderboard missing member %s", acct.memberID)
}

func mustHTTP(method, rawURL, bearer string, body []byte, stepTimeout time.Duration) *http.Response {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		fatalf("build request %s %s: %v", method, rawURL, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	cancel()
	if err != nil {
		fatalf("%s %s: %v", method, rawURL, err)
	}
	return resp
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustAuth(parent context.Context, c *smokeClient, acct account, wantRole, wantHome string, stepTimeout time.Duration) {
	c.mustWrite(parent, envelope{
		V:       protocolVersion,
		Type:    "auth",
		ID:      fmt.Sprintf("%s-auth", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(authPayload{AccessToken: acct.accessToken}),
	}, stepTimeout)

	ack := c.mustReadUntilType(parent, "auth.ack", stepTimeout, map[string]struct{}{"redirect": {}})

	var p authAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal auth.ack payload (%s): %v", c.name, err)
	}
	if p.MemberID != acct.memberID {
		fatalf("auth.ack member mismatch (%s): got=%q want=%q", c.name, p.MemberID, acct.memberID)
	}
	if p.Role != wantRole {
		fatalf("auth.ack role mismatch (%s): got=%q want=%q", c.name, p.Role, wantRole)
	}

	// The guard pushes the role home after a successful auth.
	red := c.mustReadUntilType(parent, "redirect", stepTimeout, map[string]struct{}{"auth.ack": {}})
	var rp redirectPayload
	if err := json.Unmarshal(red.Payload, &rp); err != nil {
		fatalf("unmarshal redirect payload (%s): %v", c.name, err)
	}
	if rp.Path != wantHome {
		fatalf("redirect mismatch (%s): got=%q want=%q", c.name, rp.Path, wantHome)
	}
}

func mustSignout(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	c.mustWrite(parent, envelope{
		V:       protocolVersion,
		Type:    "auth",
		ID:      fmt.Sprintf("%s-signout", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(authPayload{}),
	}, stepTimeout)

	red := c.mustReadUntilType(parent, "redirect", stepTimeout, map[string]struct{}{
		"auth.ack": {}, "refresh": {}, "signout": {},
	})
	var rp redirectPayload
	if err := json.Unmarshal(red.Payload, &rp); err != nil {
		fatalf("unmarshal signout redirect payload (%s): %v", c.name, err)
	}
	if rp.Path != "/auth/login" {
		fatalf("signout redirect mismatch (%s): got=%q", c.name, rp.Path)
	}
}

// mustAssertRefresh waits until refresh frames for every topic in want
// have arrived, ignoring other frame types.
func mustAssertRefresh(parent context.Context, c *smokeClient, want map[string]struct{}, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	pending := make(map[string]struct{}, len(want))
	for t := range want {
		pending[t] = struct{}{}
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for refresh frames (%s), missing=%v", c.name, pending)
		case err := <-c.errCh:
			fatalf("connection error while waiting for refresh (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for refresh (%s)", c.name)
			}
			if env.Type == "error" {
				var ep errorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type != "refresh" {
				continue
			}
			var rp refreshPayload
			if err := json.Unmarshal(env.Payload, &rp); err != nil {
				fatalf("unmarshal refresh payload (%s): %v", c.name, err)
			}
			delete(pending, rp.Topic)
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == "error" {
				var ep errorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func (c *smokeClient) mustWrite(parent context.Context, env envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
