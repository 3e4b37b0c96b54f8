// Package authclient is the client side of a turnstile session.
//
// A Coordinator keeps an immutable Session projection of two persisted
// strings (the access token under "token" and the refresh token under
// "refreshToken"), attaches the access token to outgoing requests, and on a
// 401 performs one shared refresh before replaying the request. Storage
// backends publish writes to the other handles of the same area so several
// coordinators ("tabs") stay consistent.
package authclient
