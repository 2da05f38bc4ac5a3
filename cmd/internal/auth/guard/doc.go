// Package guard decides where a client may be on the site.
//
// The routing rules live in a pure policy function so they can be tested
// without any transport. Guard wraps the policy in an event loop: auth and
// path changes arrive on a channel and are processed to completion, one at a
// time, by a single goroutine, so a decision can never race a later event.
//
// Roles are never trusted from tokens or client state. Every decision for an
// authenticated client re-reads the role from the member store.
package guard
