package authclient

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is decoded from the access token.
type User struct {
	Email   string
	Subject string
}

// Session is an immutable snapshot of the client's authentication state.
type Session struct {
	User           *User
	AccessToken    string
	IsLoading      bool
	SessionExpired bool
}

// Authenticated reports whether an access token is held.
func (s Session) Authenticated() bool { return s.AccessToken != "" }

func (s Session) withToken(token string, u User) Session {
	s.AccessToken = token
	s.User = &u
	return s
}

func (s Session) anonymous() Session {
	s.AccessToken = ""
	s.User = nil
	return s
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// decodeAccess reads the token's claims without verifying the signature;
// the server remains the authority, the client only needs identity and expiry.
func decodeAccess(token string) (User, time.Time, bool) {
	var c accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return User{}, time.Time{}, false
	}
	if c.Subject == "" || c.ExpiresAt == nil {
		return User{}, time.Time{}, false
	}
	return User{Email: c.Email, Subject: c.Subject}, c.ExpiresAt.Time, true
}
