package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	pathLogin    = "/auth/login"
	pathRegister = "/auth/register"
	pathRefresh  = "/auth/refresh"
	pathLogout   = "/auth/logout"
	pathProfile  = "/auth/profile"
	pathEvents   = "/auth/events"
)

// Coordinator owns the client session: it loads it from Storage, keeps it in
// sync with other handles, and refreshes it when the API answers 401.
type Coordinator struct {
	log     *slog.Logger
	baseURL string
	storage Storage

	// base carries the actual requests; raw uses it without interception.
	base http.RoundTripper
	raw  *http.Client

	mu    sync.RWMutex
	state Session

	flight singleflight.Group

	onChange        func(Session)
	onLoginRequired func()
	now             func() time.Time

	// rotationGrace bounds how long a failed refresh waits for another
	// handle sharing storage to publish the pair it redeemed.
	rotationGrace time.Duration
}

const defaultRotationGrace = 100 * time.Millisecond

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTransport sets the underlying transport (default http.DefaultTransport).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Coordinator) {
		if rt != nil {
			c.base = rt
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithOnChange registers a callback invoked with every new Session snapshot.
// It runs synchronously and must not call back into the Coordinator's mutators.
func WithOnChange(fn func(Session)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// WithLoginRequired registers the hook invoked when the user must sign in again.
func WithLoginRequired(fn func()) Option {
	return func(c *Coordinator) { c.onLoginRequired = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRotationGrace sets how long a rejected refresh waits for a pair written
// by another handle before the session expires. Zero disables the wait.
func WithRotationGrace(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.rotationGrace = d
		}
	}
}

// New builds a Coordinator for the API at baseURL. The session starts loading;
// call Load before use.
func New(baseURL string, storage Storage, opts ...Option) (*Coordinator, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("authclient: empty base url")
	}
	if storage == nil {
		return nil, errors.New("authclient: nil storage")
	}

	c := &Coordinator{
		log:     slog.Default(),
		baseURL: baseURL,
		storage: storage,
		base:    http.DefaultTransport,
		state:   Session{IsLoading: true},
		now:     time.Now,

		rotationGrace: defaultRotationGrace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.raw = &http.Client{Transport: c.base}
	return c, nil
}

// Session returns the current snapshot.
func (c *Coordinator) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// HTTPClient returns a client whose requests carry the access token and
// transparently survive an expired one.
func (c *Coordinator) HTTPClient() *http.Client {
	return &http.Client{Transport: c}
}

// Load rebuilds the session from storage.
func (c *Coordinator) Load(ctx context.Context) error {
	defer c.update(func(s Session) Session {
		s.IsLoading = false
		return s
	})

	if access, ok, err := c.storage.Get(ctx, KeyAccessToken); err != nil {
		return err
	} else if ok {
		if u, exp, valid := decodeAccess(access); valid && exp.After(c.now()) {
			c.adopt(access, u)
			return nil
		}
		if err := c.storage.Remove(ctx, KeyAccessToken); err != nil {
			return err
		}
	}

	if _, ok, err := c.storage.Get(ctx, KeyRefreshToken); err != nil {
		return err
	} else if !ok {
		c.update(Session.anonymous)
		return nil
	}

	// renew expires the session itself when the token is rejected.
	renew := func() (any, error) { return c.renew(context.WithoutCancel(ctx)) }
	if _, err, _ := c.flight.Do("refresh", renew); err != nil {
		c.log.Info("authclient.load.refresh.fail", "err", err)
	}
	return nil
}

// Login exchanges credentials for a token pair and adopts it.
func (c *Coordinator) Login(ctx context.Context, email, password string) (Session, error) {
	req, err := c.newRequest(ctx, http.MethodPost, pathLogin, credentials{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}

	var pair tokenPair
	if err := do(c.raw, req, &pair); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case http.StatusUnauthorized:
				return Session{}, ErrInvalidCredentials
			case http.StatusTooManyRequests:
				return Session{}, ErrRateLimited
			}
		}
		return Session{}, err
	}

	if err := c.persist(ctx, pair); err != nil {
		return Session{}, err
	}
	c.update(func(s Session) Session {
		s.SessionExpired = false
		return s
	})
	return c.Session(), nil
}

// Register creates an account. It does not sign in.
func (c *Coordinator) Register(ctx context.Context, email, password string) (RegisteredUser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, pathRegister, credentials{Email: email, Password: password})
	if err != nil {
		return RegisteredUser{}, err
	}

	var u RegisteredUser
	if err := do(c.raw, req, &u); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "already_exists" {
			return RegisteredUser{}, ErrAlreadyExists
		}
		return RegisteredUser{}, err
	}
	return u, nil
}

// Profile returns the identity the server sees for the current access token.
func (c *Coordinator) Profile(ctx context.Context) (User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathProfile, nil)
	if err != nil {
		return User{}, err
	}

	var out struct {
		Email   string `json:"email"`
		Subject string `json:"subject"`
	}
	if err := do(c.HTTPClient(), req, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return User{}, ErrNotAuthenticated
		}
		return User{}, err
	}
	return User(out), nil
}

// Logout revokes the refresh token server-side and clears local state. Local
// state is cleared even when the server call fails; that error is returned.
func (c *Coordinator) Logout(ctx context.Context) error {
	var serverErr error
	if c.Session().Authenticated() {
		req, err := c.newRequest(ctx, http.MethodPost, pathLogout, nil)
		if err != nil {
			return err
		}
		serverErr = do(c.HTTPClient(), req, nil)
	}

	if err := c.clearStorage(ctx); err != nil {
		return err
	}
	c.update(Session.anonymous)

	if errors.Is(serverErr, ErrSessionExpired) {
		return nil
	}
	return serverErr
}

// AcknowledgeExpired clears the sticky SessionExpired flag.
func (c *Coordinator) AcknowledgeExpired() {
	c.update(func(s Session) Session {
		s.SessionExpired = false
		return s
	})
}

// Run applies changes made by other handles until ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	changes, err := c.storage.Subscribe(ctx)
	if err != nil {
		return err
	}
	for ch := range changes {
		c.applyExternal(ctx, ch)
	}
	return ctx.Err()
}

func (c *Coordinator) applyExternal(ctx context.Context, ch Change) {
	if ch.Key != KeyAccessToken {
		return
	}
	if ch.Removed {
		c.update(Session.anonymous)
		if err := c.storage.Remove(ctx, KeyRefreshToken); err != nil {
			c.log.Warn("authclient.sync.remove_refresh.fail", "err", err)
		}
		return
	}
	if u, _, ok := decodeAccess(ch.Value); ok {
		c.adopt(ch.Value, u)
	}
}

// ---- transitions ----

// update applies fn to the session and returns the state it replaced.
func (c *Coordinator) update(fn func(Session) Session) Session {
	c.mu.Lock()
	prev := c.state
	next := fn(prev)
	c.state = next
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(next)
	}
	return prev
}

func (c *Coordinator) adopt(token string, u User) {
	c.update(func(s Session) Session { return s.withToken(token, u) })
}

func (c *Coordinator) persist(ctx context.Context, pair tokenPair) error {
	u, _, ok := decodeAccess(pair.AccessToken)
	if !ok {
		return fmt.Errorf("authclient: server returned an undecodable access token")
	}
	// The access token is written first: other handles react to it.
	if err := c.storage.Set(ctx, KeyAccessToken, pair.AccessToken); err != nil {
		return err
	}
	if err := c.storage.Set(ctx, KeyRefreshToken, pair.RefreshToken); err != nil {
		return err
	}
	c.adopt(pair.AccessToken, u)
	return nil
}

// expire clears both tokens, raises SessionExpired and asks for a new login.
// The hook fires once per episode: an already expired session stays quiet.
func (c *Coordinator) expire(ctx context.Context) {
	if err := c.clearStorage(ctx); err != nil {
		c.log.Warn("authclient.expire.clear.fail", "err", err)
	}
	c.signOut(func(s Session) Session {
		s = s.anonymous()
		s.SessionExpired = true
		return s
	})
}

// signOut applies fn and asks for a login unless the session had already
// expired.
func (c *Coordinator) signOut(fn func(Session) Session) {
	if prev := c.update(fn); !prev.SessionExpired {
		c.loginRequired()
	}
}

func (c *Coordinator) clearStorage(ctx context.Context) error {
	if err := c.storage.Remove(ctx, KeyAccessToken); err != nil {
		return err
	}
	return c.storage.Remove(ctx, KeyRefreshToken)
}

func (c *Coordinator) loginRequired() {
	if c.onLoginRequired != nil {
		c.onLoginRequired()
	}
}
