package authclient

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is returned when a refresh was needed and failed.
	// The stored tokens are cleared and Session().SessionExpired is set.
	ErrSessionExpired = errors.New("authclient: session expired")

	ErrInvalidCredentials = errors.New("authclient: invalid credentials")
	ErrAlreadyExists      = errors.New("authclient: user already exists")
	ErrRateLimited        = errors.New("authclient: rate limited")
	ErrNotAuthenticated   = errors.New("authclient: not authenticated")

	errNoRefreshToken = errors.New("authclient: no refresh token stored")
)

// APIError is a non-success response from the auth API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("authclient: http %d", e.Status)
	}
	return fmt.Sprintf("authclient: http %d: %s: %s", e.Status, e.Code, e.Message)
}
