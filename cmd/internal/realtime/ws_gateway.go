package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	authapi "leaderlite/cmd/internal/auth/api"
	"leaderlite/cmd/internal/auth/guard"
	"leaderlite/cmd/internal/auth/session"
	"leaderlite/cmd/member"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed,
	// so a fresh deployment is safe until configured.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the websocket entrypoint.
//
// It enforces origin policy, subprotocol selection, and per-connection
// rate limits, then runs three things per connection: a writer, a
// heartbeat, and a routing guard fed by auth and navigate frames.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	sessions *session.Service
	members  member.Store
	identity *authapi.Identity

	topics []string

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks: Accept authorizes
	// same-host origins by default but needs OriginPatterns for the rest.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults. identity may be
// nil to disable cookie-seeded authentication at upgrade time. topics
// names the hub topics forwarded to every connection as refresh frames.
func NewWSGateway(log *slog.Logger, hub *Hub, sessions *session.Service, members member.Store, identity *authapi.Identity, topics ...string) (*WSGateway, error) {
	if hub == nil || sessions == nil || members == nil {
		return nil, errors.New("realtime: nil hub, session service, or member store")
	}
	if log == nil {
		log = slog.Default()
	}

	g := &WSGateway{
		log:      log,
		hub:      hub,
		sessions: sessions,
		members:  members,
		identity: identity,
		topics:   topics,
	}

	// InsecureSkipVerify is a dev-only knob; it is not an origin policy.
	g.devInsecure = envBoolWS("LEADERLITE_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("LEADERLITE_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("LEADERLITE_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("LEADERLITE_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("LEADERLITE_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("LEADERLITE_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("LEADERLITE_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("LEADERLITE_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("LEADERLITE_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("LEADERLITE_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// ServeHTTP adapter so the gateway mounts as an http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// frameNavigator translates guard decisions into server frames.
type frameNavigator struct {
	g      *WSGateway
	ctx    context.Context
	client *Client
}

func (n *frameNavigator) Navigate(path string) {
	p, _ := json.Marshal(RedirectPayload{Path: path})
	_ = n.g.enqueue(n.ctx, n.client, newEnvelope(TypeRedirect, p, time.Now().UTC()))
}

func (n *frameNavigator) SignOut(reason string) {
	p, _ := json.Marshal(SignoutPayload{Reason: reason})
	_ = n.g.enqueue(n.ctx, n.client, newEnvelope(TypeSignout, p, time.Now().UTC()))
}

// HandleWS upgrades the request and runs the connection loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{SubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != SubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", SubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id generation failed")
		return
	}
	client := NewClient(connID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := g.hub.Subscribe(g.topics...)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			sub.Cancel()
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	gd, err := guard.New(g.log, guard.NewStoreRoleVerifier(g.members), &frameNavigator{g: g, ctx: ctx, client: client})
	if err != nil {
		g.log.Error("ws.guard.fail", "err", err)
		shutdown(websocket.StatusInternalError, "guard init failed")
		return
	}
	go func() { _ = gd.Run(ctx) }()

	// Refresh forwarding: one goroutine drains the subscription in
	// publish order and turns each signal into a refresh frame.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case topic, ok := <-sub.C:
				if !ok {
					return
				}
				p, _ := json.Marshal(RefreshPayload{Topic: topic})
				_ = g.enqueue(ctx, client, newEnvelope(TypeRefresh, p, time.Now().UTC()))
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// Seed the guard from upgrade-time credentials (bearer or cookie).
	if g.identity != nil {
		if _, claims, err := g.identity.Resolve(r); err == nil {
			_ = gd.Send(ctx, guard.AuthChanged{Authenticated: true, MemberID: claims.MemberID})
		}
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case TypeAuth:
			if err := g.onAuth(ctx, gd, client, env, now); err != nil {
				g.trySendError(ctx, client, "auth_failed", err.Error())
				continue readLoop
			}

		case TypeNavigate:
			if err := g.onNavigate(ctx, gd, env); err != nil {
				g.trySendError(ctx, client, "navigate_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- frame handlers ----

func (g *WSGateway) onAuth(ctx context.Context, gd *guard.Guard, client *Client, env Envelope, now time.Time) error {
	var p AuthPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	tok := strings.TrimSpace(p.AccessToken)
	if tok == "" {
		// Empty token is an explicit sign-out.
		if err := gd.Send(ctx, guard.AuthChanged{Authenticated: false}); err != nil {
			return err
		}
		ackPayload, _ := json.Marshal(AuthAckPayload{})
		if !g.enqueue(ctx, client, newEnvelope(TypeAuthAck, ackPayload, now)) {
			return errors.New("backpressure: auth.ack")
		}
		return nil
	}

	claims, err := g.sessions.ValidateAccessToken(ctx, tok, now)
	if err != nil {
		_ = gd.Send(ctx, guard.AuthChanged{Authenticated: false})
		return errors.New("token rejected")
	}

	role := ""
	if m, err := g.members.GetByID(ctx, claims.MemberID); err == nil {
		role = string(m.Role)
	}

	if err := gd.Send(ctx, guard.AuthChanged{Authenticated: true, MemberID: claims.MemberID}); err != nil {
		return err
	}

	ackPayload, _ := json.Marshal(AuthAckPayload{MemberID: claims.MemberID, Role: role})
	if !g.enqueue(ctx, client, newEnvelope(TypeAuthAck, ackPayload, now)) {
		return errors.New("backpressure: auth.ack")
	}
	return nil
}

func (g *WSGateway) onNavigate(ctx context.Context, gd *guard.Guard, env Envelope) error {
	var p NavigatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.Path) == "" {
		return errors.New("missing path")
	}
	return gd.Send(ctx, guard.PathChanged{Path: p.Path})
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, newEnvelope(TypeError, p, time.Now().UTC()))
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) Envelope {
	id, _ := NewEnvelopeID(ts)
	return Envelope{
		V:       ProtocolVersion,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON errors normally surface from json.Unmarshal, but error strings
	// can be propagated by the transport too.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port and scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host.
	// Only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
