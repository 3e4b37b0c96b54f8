// Package session implements turnstile's session lifecycle.
//
// A successful login yields a pair of signed JWTs: a short-lived access token and
// a long-lived refresh token, each signed with its own secret. Only a salted hash
// of the current refresh token is kept server-side, one slot per user, so a login
// on another device replaces the previous session.
//
// Refresh tokens are single use. Presenting one rotates the pair and overwrites
// the slot; presenting an old, correctly signed token afterwards is treated as
// reuse and denied (optionally revoking the slot).
//
// Transport (HTTP/WS) integration lives in cmd/internal/auth/api and cmd/internal/events.
package session
