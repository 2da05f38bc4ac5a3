// Package authapi exposes the authentication HTTP surface: signup, login,
// refresh rotation, logout, and the current-identity endpoint. It also
// provides the Identity resolver other handlers use to authenticate
// requests and re-read the caller's role from the member store.
package authapi
