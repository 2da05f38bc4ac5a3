// Package session implements the leaderboard's session architecture.
//
// It provides a multi-device session model with refresh-token rotation,
// reuse detection, and per-session/per-member revocation.
//
// Access tokens are issued as PASETO v4.public and are short-lived. They carry
// only the member and session IDs; the member's role is always re-read from
// the member store so a stale token can never keep an old role alive.
// Refresh tokens are opaque random strings and are stored hashed
// (HMAC-SHA256 when LEADERLITE_TOKEN_HMAC_KEY is set; otherwise SHA-256 for dev).
//
// Transport (HTTP/WS) integration is intentionally out of scope here.
package session
