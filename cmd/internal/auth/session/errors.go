package session

import "errors"

var (
	// ErrAlreadyExists is returned by Register when the email is taken.
	ErrAlreadyExists = errors.New("user already exists")

	// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccessDenied is returned by Refresh when the slot is empty or does not match.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidToken is returned when a token fails signature, issuer or expiry checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidInput is returned for empty or oversized credentials.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
