package identity

import (
	"context"
	"time"
)

// User is turnstile's security principal.
//
// PasswordHash and HashedRefreshToken are populated only by the auth reads and
// must never be serialized outward.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time

	PasswordHash       string
	HashedRefreshToken *string
}

// Public returns u without its hash fields.
func (u User) Public() User {
	return User{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

// CreateUserInput describes a registration. PasswordHash is already hashed.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Now          time.Time
}

// Store is the user directory boundary.
type Store interface {
	// FindUserByEmail and FindUserByID return ErrUserNotFound when absent.
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)

	// FindUserAuthByEmail is FindUserByEmail including PasswordHash and HashedRefreshToken.
	FindUserAuthByEmail(ctx context.Context, email string) (User, error)

	// CreateUser returns ErrConflict when the email is taken.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// PersistHashedRefreshToken replaces the user's refresh-token hash in one atomic
	// write. A nil hash clears the slot.
	PersistHashedRefreshToken(ctx context.Context, userID string, hash *string) error

	// LoadHashedRefreshToken returns the stored hash, or nil when the slot is empty.
	LoadHashedRefreshToken(ctx context.Context, userID string) (*string, error)
}
