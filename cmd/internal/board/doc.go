// Package board serves the leaderboard and point-request JSON API.
// Every endpoint authenticates the caller and enforces roles on the
// server; nothing trusts role claims sent by clients.
package board
