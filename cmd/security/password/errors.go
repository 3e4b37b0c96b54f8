package password

import "errors"

var (
	// ErrPasswordEmpty and ErrPasswordTooLong are input errors from Hash;
	// the session layer reports both as invalid input.
	ErrPasswordEmpty   = errors.New("password empty")
	ErrPasswordTooLong = errors.New("password too long")

	// ErrInvalidHash means a stored hash is malformed or outside the accepted
	// cost bounds. It is never a plain mismatch.
	ErrInvalidHash = errors.New("invalid password hash")

	// ErrConfig wraps every out-of-range setting reported by FromEnv and Validate.
	ErrConfig = errors.New("invalid password config")
)
