// Package token provides token hashing primitives for Leaderboard Lite.
//
// It is the single source of truth for refresh-token hashing behavior:
//   - Dev mode: SHA-256(token) when no HMAC key is configured.
//   - Production mode: HMAC-SHA256(token, key) when LEADERLITE_TOKEN_HMAC_KEY is set.
//
// Output is always 64-char hex, suitable for storage and constant-time comparison.
package token
