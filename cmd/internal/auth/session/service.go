package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"turnstile/cmd/identity"
	"turnstile/cmd/security/password"
)

// Service implements register, login, logout and refresh on top of the user
// directory, the credential verifier, the token issuer and the refresh store.
type Service struct {
	log *slog.Logger
	cfg Config

	users     identity.Store
	passwords password.Config
	issuer    *Issuer
	refresh   *RefreshStore
	observers []Observer
	now       func() time.Time

	// dummyHash is verified against when the email is unknown.
	dummyHash string

	// Refreshes for one user run one at a time inside this process so a
	// refresh token cannot be redeemed twice between the check and the write.
	userLocks [64]sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithObserver adds an observer for session events.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithPasswordConfig sets the Argon2id parameters.
func WithPasswordConfig(c password.Config) ServiceOption {
	return func(s *Service) { s.passwords = c }
}

// WithRefreshStore replaces the default refresh store (the user directory's own slot).
func WithRefreshStore(r *RefreshStore) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.refresh = r
		}
	}
}

// NewService wires a Service.
func NewService(log *slog.Logger, cfg Config, users identity.Store, issuer *Issuer, opts ...ServiceOption) (*Service, error) {
	if users == nil || issuer == nil {
		return nil, fmt.Errorf("session: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		log:       log,
		cfg:       cfg,
		users:     users,
		passwords: password.DefaultConfig(),
		issuer:    issuer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.refresh == nil {
		s.refresh = NewRefreshStore(users, nil)
	}

	dummy, err := s.passwords.DummyHash()
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy

	return s, nil
}

// Issuer exposes the token issuer for access-token verification at the edges.
func (s *Service) Issuer() *Issuer { return s.issuer }

// Register creates a user. The returned user carries no hash fields.
func (s *Service) Register(ctx context.Context, email, plain string) (identity.User, error) {
	email = identity.NormalizeEmail(email)
	if email == "" || plain == "" {
		return identity.User{}, ErrInvalidInput
	}

	_, err := s.users.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		return identity.User{}, ErrAlreadyExists
	case !identity.IsNotFound(err):
		return identity.User{}, err
	}

	hash, err := s.passwords.Hash(plain)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) || errors.Is(err, password.ErrPasswordEmpty) {
			return identity.User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return identity.User{}, err
	}

	u, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Now:          s.now().UTC(),
	})
	if err != nil {
		if identity.IsConflict(err) {
			return identity.User{}, ErrAlreadyExists
		}
		if identity.IsInvalidInput(err) {
			return identity.User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return identity.User{}, err
	}

	s.emit(ctx, EventRegistered, u.ID)
	return u.Public(), nil
}

// Login verifies credentials, issues a pair and stores the refresh hash.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, plain string) (TokenPair, identity.User, error) {
	u, err := s.users.FindUserAuthByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) {
			return TokenPair{}, identity.User{}, err
		}
		_, _ = s.passwords.Verify(s.dummyHash, plain)
		s.emit(ctx, EventLoginFailed, "")
		return TokenPair{}, identity.User{}, ErrInvalidCredentials
	}

	ok, err := s.passwords.Verify(u.PasswordHash, plain)
	if err != nil {
		s.log.Warn("auth.login.stored_hash_invalid", "user_id", u.ID, "err", err)
	}
	if !ok {
		s.emit(ctx, EventLoginFailed, u.ID)
		return TokenPair{}, identity.User{}, ErrInvalidCredentials
	}

	mu := s.lockUser(u.ID)
	defer mu.Unlock()

	pair, err := s.issueAndStore(ctx, u)
	if err != nil {
		return TokenPair{}, identity.User{}, err
	}

	s.emit(ctx, EventLogin, u.ID)
	return pair, u.Public(), nil
}

// Logout clears the user's refresh slot. Repeating it is a no-op.
func (s *Service) Logout(ctx context.Context, userID string) error {
	mu := s.lockUser(userID)
	defer mu.Unlock()

	if err := s.refresh.Store(ctx, userID, nil); err != nil && !identity.IsNotFound(err) {
		return err
	}

	s.emit(ctx, EventLogout, userID)
	return nil
}

// Refresh redeems presented for userID and returns a new pair.
//
// An empty slot or a non-matching token yields ErrAccessDenied. A mismatch against
// a non-empty slot means an older token is being replayed; it is logged and, with
// RevokeOnReuse, the slot is cleared.
func (s *Service) Refresh(ctx context.Context, userID, presented string) (TokenPair, error) {
	mu := s.lockUser(userID)
	defer mu.Unlock()

	state, err := s.refresh.Check(ctx, userID, presented)
	if err != nil {
		return TokenPair{}, err
	}

	switch state {
	case SlotEmpty:
		s.emit(ctx, EventRefreshDenied, userID)
		return TokenPair{}, ErrAccessDenied
	case SlotMismatch:
		s.handleReuse(ctx, userID)
		return TokenPair{}, ErrAccessDenied
	}

	u, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			s.emit(ctx, EventRefreshDenied, userID)
			return TokenPair{}, ErrAccessDenied
		}
		return TokenPair{}, err
	}

	pair, err := s.issueAndStore(ctx, u)
	if err != nil {
		return TokenPair{}, err
	}

	s.emit(ctx, EventRefresh, userID)
	return pair, nil
}

// RefreshWithToken verifies the refresh token's signature first; a bad token
// fails with ErrInvalidToken before the store is consulted.
func (s *Service) RefreshWithToken(ctx context.Context, presented string) (TokenPair, error) {
	claims, err := s.issuer.VerifyRefresh(presented)
	if err != nil {
		s.emit(ctx, EventRefreshDenied, "")
		return TokenPair{}, ErrInvalidToken
	}
	return s.Refresh(ctx, claims.Subject, presented)
}

func (s *Service) issueAndStore(ctx context.Context, u identity.User) (TokenPair, error) {
	pair, err := s.issuer.Issue(ctx, Identity{Subject: u.ID, Email: u.Email})
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.refresh.Store(ctx, u.ID, &pair.RefreshToken); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (s *Service) handleReuse(ctx context.Context, userID string) {
	s.log.Warn("auth.refresh.reuse_detected", "user_id", userID, "revoke", s.cfg.RevokeOnReuse)

	s.emit(ctx, EventReuseDetected, userID)
	if !s.cfg.RevokeOnReuse {
		return
	}
	if err := s.refresh.Store(ctx, userID, nil); err != nil {
		s.log.Error("auth.refresh.reuse_revoke.fail", "user_id", userID, "err", err)
		return
	}
	s.emit(ctx, EventReuseRevoked, userID)
}

func (s *Service) lockUser(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &s.userLocks[h.Sum32()%uint32(len(s.userLocks))]
	mu.Lock()
	return mu
}

func (s *Service) emit(ctx context.Context, kind EventKind, userID string) {
	ev := Event{Kind: kind, UserID: userID, At: s.now().UTC()}
	for _, o := range s.observers {
		o.ObserveSession(ctx, ev)
	}
}
