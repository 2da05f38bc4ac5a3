package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Wire protocol for the leaderlite.v1 subprotocol. All frames are JSON
// envelopes; payload shape depends on Type.
const (
	ProtocolVersion = 1

	SubprotocolV1 = "leaderlite.v1"

	// Client to server.
	TypeAuth     = "auth"
	TypeNavigate = "navigate"

	// Server to client.
	TypeAuthAck  = "auth.ack"
	TypeRedirect = "redirect"
	TypeSignout  = "signout"
	TypeRefresh  = "refresh"
	TypeError    = "error"
)

// Envelope is the framing for every websocket message.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the framing fields of an inbound envelope.
func (e Envelope) Validate() error {
	if e.V != ProtocolVersion {
		return errors.New("unsupported protocol version")
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	return nil
}

// AuthPayload carries an access token, or an empty one to sign out.
type AuthPayload struct {
	AccessToken string `json:"access_token"`
}

// AuthAckPayload confirms the connection's authenticated identity.
type AuthAckPayload struct {
	MemberID string `json:"member_id"`
	Role     string `json:"role"`
}

// NavigatePayload reports a client-side route change.
type NavigatePayload struct {
	Path string `json:"path"`
}

// RedirectPayload instructs the client to move to Path.
type RedirectPayload struct {
	Path string `json:"path"`
}

// SignoutPayload instructs the client to drop its session.
type SignoutPayload struct {
	Reason string `json:"reason"`
}

// RefreshPayload tells the client which resource to refetch.
type RefreshPayload struct {
	Topic string `json:"topic"`
}

// ErrorPayload reports a per-frame failure without closing the socket.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
