package authclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T, f *fakeAPI, st Storage, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	c, err := New(f.srv.URL, st, opts...)
	require.NoError(t, err)
	return c
}

func TestLoad_AdoptsUnexpiredAccessToken(t *testing.T) {
	f := newFakeAPI(t)
	access, refresh := f.issue(time.Hour)

	tab := NewMemoryArea().NewTab()
	ctx := context.Background()
	require.NoError(t, tab.Set(ctx, KeyAccessToken, access))
	require.NoError(t, tab.Set(ctx, KeyRefreshToken, refresh))

	c := newCoordinator(t, f, tab)
	require.True(t, c.Session().IsLoading)
	require.NoError(t, c.Load(ctx))

	s := c.Session()
	assert.False(t, s.IsLoading)
	assert.Equal(t, access, s.AccessToken)
	require.NotNil(t, s.User)
	assert.Equal(t, User{Email: fakeEmail, Subject: fakeSubject}, *s.User)
	assert.Zero(t, f.refreshCalls.Load())
}

func TestLoad_RefreshesExpiredAccessToken(t *testing.T) {
	f := newFakeAPI(t)
	_, refresh := f.issue(time.Hour)

	tab := NewMemoryArea().NewTab()
	ctx := context.Background()
	require.NoError(t, tab.Set(ctx, KeyAccessToken, expiredToken(t)))
	require.NoError(t, tab.Set(ctx, KeyRefreshToken, refresh))

	c := newCoordinator(t, f, tab)
	require.NoError(t, c.Load(ctx))

	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.True(t, c.Session().Authenticated())

	stored, _, _ := tab.Get(ctx, KeyRefreshToken)
	assert.NotEqual(t, refresh, stored, "the rotated refresh token must be persisted")
}

func TestLoad_FailedRefreshExpiresSession(t *testing.T) {
	f := newFakeAPI(t)
	f.issue(time.Hour)

	tab := NewMemoryArea().NewTab()
	ctx := context.Background()
	require.NoError(t, tab.Set(ctx, KeyRefreshToken, "stale"))

	hook := &loginHook{}
	c := newCoordinator(t, f, tab, WithLoginRequired(hook.fire))
	require.NoError(t, c.Load(ctx))

	s := c.Session()
	assert.False(t, s.Authenticated())
	assert.True(t, s.SessionExpired)
	assert.False(t, s.IsLoading)
	assert.Equal(t, 1, hook.count())

	_, ok, _ := tab.Get(ctx, KeyRefreshToken)
	assert.False(t, ok)

	// Sticky until acknowledged.
	require.NoError(t, c.Load(ctx))
	assert.True(t, c.Session().SessionExpired)
	c.AcknowledgeExpired()
	assert.False(t, c.Session().SessionExpired)
}

func TestLoad_NothingStoredStaysAnonymous(t *testing.T) {
	f := newFakeAPI(t)
	c := newCoordinator(t, f, NewMemoryArea().NewTab())
	require.NoError(t, c.Load(context.Background()))

	s := c.Session()
	assert.False(t, s.Authenticated())
	assert.False(t, s.SessionExpired)
	assert.Zero(t, f.refreshCalls.Load())
}

func TestLogin_SuccessClearsExpiredAndFailureIsNotRetried(t *testing.T) {
	f := newFakeAPI(t)
	c := newCoordinator(t, f, NewMemoryArea().NewTab())
	ctx := context.Background()

	_, err := c.Login(ctx, fakeEmail, "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	c.update(func(s Session) Session {
		s.SessionExpired = true
		return s
	})
	s, err := c.Login(ctx, fakeEmail, fakePassword)
	require.NoError(t, err)
	assert.True(t, s.Authenticated())
	assert.False(t, s.SessionExpired)

	// A 401 from the login endpoint is returned as is, even with a refresh token stored.
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/auth/login", strings.NewReader(`{"email":"a@x.io","password":"no"}`))
	resp, err := c.HTTPClient().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.refreshCalls.Load())
	assert.True(t, c.Session().Authenticated())

	u, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, fakeSubject, u.Subject)
}

func TestRoundTrip_RefreshesOnceAndReplaysBody(t *testing.T) {
	f := newFakeAPI(t)
	c := newCoordinator(t, f, NewMemoryArea().NewTab())
	ctx := context.Background()

	_, err := c.Login(ctx, fakeEmail, fakePassword)
	require.NoError(t, err)
	f.expireAccess()

	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/echo", strings.NewReader("payload"))
	resp, err := c.HTTPClient().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "payload", bodyOf(resp.Body))
	assert.Equal(t, int32(1), f.refreshCalls.Load())
}

func TestRoundTrip_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	f := newFakeAPI(t)
	f.setRefresh(50*time.Millisecond, 0)
	c := newCoordinator(t, f, NewMemoryArea().NewTab())
	ctx := context.Background()

	_, err := c.Login(ctx, fakeEmail, fakePassword)
	require.NoError(t, err)
	f.expireAccess()

	const n = 20
	client := c.HTTPClient()
	var wg sync.WaitGroup
	statuses := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/auth/profile", nil)
			resp, err := client.Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			statuses[i] = resp.StatusCode
			_ = resp.Body.Close()
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
	}
	assert.Equal(t, int32(1), f.refreshCalls.Load())
}

func TestRoundTrip_NoRefreshTokenRequiresLogin(t *testing.T) {
	f := newFakeAPI(t)
	hook := &loginHook{}
	tab := NewMemoryArea().NewTab()
	c := newCoordinator(t, f, tab, WithLoginRequired(hook.fire))
	ctx := context.Background()

	_, err := c.Login(ctx, fakeEmail, fakePassword)
	require.NoError(t, err)
	require.NoError(t, tab.Remove(ctx, KeyRefreshToken))
	f.expireAccess()

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/auth/profile", nil)
	resp, err := c.HTTPClient().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, hook.count())
	assert.False(t, c.Session().Authenticated())
	assert.False(t, c.Session().SessionExpired)
	assert.Zero(t, f.refreshCalls.Load())
}

func TestRoundTrip_FailedRefreshExpiresSession(t *testing.T) {
	f := newFakeAPI(t)
	hook := &loginHook{}
	tab := NewMemoryArea().NewTab()
	c := newCoordinator(t, f, tab, WithLoginRequired(hook.fire))
	ctx := context.Background()

	_, err := c.Login(ctx, fakeEmail, fakePassword)
	require.NoError(t, err)
	f.expireAccess()
	f.setRefresh(0, http.StatusForbidden)

	_, err = c.Profile(ctx)
	require.ErrorIs(t, err, ErrSessionExpired)

	s := c.Session()
	assert.True(t, s.SessionExpired)
	assert.False(t, s.Authenticated())
	assert.Equal(t, 1, hook.count())
	_, ok, _ := tab.Get(ctx, KeyAccessToken)
	assert.False(t, ok)
	_, ok, _ = tab.Get(ctx, KeyRefreshToken)
	assert.False(t, ok)
}

func TestRoundTrip_AbandonedCallerReleasesRefresh(t *testing.T) {
	f := newFakeAPI(t)
	f.setRefresh(300*time.Millisecond, 0)
	c := newCoordinator(t, f, NewMemoryArea().NewTab())
	ctx := context.Background()

	first, err := c.Login(ctx, fakeEmail, fakePassword)
	require.NoError(t, err)
	f.expireAccess()

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(short, http.MethodGet, f.srv.URL+"/auth/profile", nil)
	_, err = c.HTTPClient().Do(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// The detached refresh still completes and the session recovers.
	require.Eventually(t, func() bool {
		s := c.Session()
		return s.Authenticated() && s.AccessToken != first.AccessToken
	}, 2*time.Second, 10*time.Millisecond)

	u, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, fakeEmail, u.Email)
	assert.Equal(t, int32(1), f.refreshCalls.Load())
}

func TestRoundTrip_ConcurrentFailedRefreshRequiresLoginOnce(t *testing.T) {
	f := newFakeAPI(t)
	hook := &loginHook{}
	tab := NewMemoryArea().NewTab()
	c := newCoordinator(t, f, tab, WithLoginRequired(hook.fire))
	ctx := context.Background()

	_, err := c.Login(ctx, fakeEmail, fakePassword)
	require.NoError(t, err)
	f.expireAccess()
	f.setRefresh(50*time.Millisecond, http.StatusForbidden)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Profile(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Error(t, errs[i])
	}
	assert.Equal(t, 1, hook.count())
	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.True(t, c.Session().SessionExpired)

	// A late request in the same episode does not ask again.
	_, err = c.Profile(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, hook.count())
}

func TestRoundTrip_AbandonedCallerStillExpiresSession(t *testing.T) {
	f := newFakeAPI(t)
	hook := &loginHook{}
	tab := NewMemoryArea().NewTab()
	c := newCoordinator(t, f, tab, WithLoginRequired(hook.fire))
	ctx := context.Background()

	_, err := c.Login(ctx, fakeEmail, fakePassword)
	require.NoError(t, err)
	f.expireAccess()
	f.setRefresh(200*time.Millisecond, http.StatusForbidden)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(short, http.MethodGet, f.srv.URL+"/auth/profile", nil)
	_, err = c.HTTPClient().Do(req)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return c.Session().SessionExpired }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.Session().Authenticated())
	assert.Equal(t, 1, hook.count())
	_, ok, _ := tab.Get(ctx, KeyAccessToken)
	assert.False(t, ok)
	_, ok, _ = tab.Get(ctx, KeyRefreshToken)
	assert.False(t, ok)
}

func TestLogout_ClearsStorageAndServerSlot(t *testing.T) {
	f := newFakeAPI(t)
	tab := NewMemoryArea().NewTab()
	c := newCoordinator(t, f, tab)
	ctx := context.Background()

	_, err := c.Login(ctx, fakeEmail, fakePassword)
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))

	assert.False(t, c.Session().Authenticated())
	_, ok, _ := tab.Get(ctx, KeyRefreshToken)
	assert.False(t, ok)

	f.mu.Lock()
	assert.Empty(t, f.refresh)
	f.mu.Unlock()

	// Repeating it is harmless.
	require.NoError(t, c.Logout(ctx))
}
