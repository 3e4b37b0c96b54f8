// Package identity is turnstile's user directory.
//
// It owns the users table: id, email, password hash and the single refresh-token
// hash slot per user. Hash columns are only returned by the "auth" reads
// (FindUserAuthByEmail, LoadHashedRefreshToken); the ordinary reads leave them empty.
//
// Password hashing lives in cmd/security/password and refresh-token hashing in
// cmd/security/token; this package only stores what it is given.
package identity
