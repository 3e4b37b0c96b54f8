package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	authapi "turnstile/cmd/internal/auth/api"
	"turnstile/cmd/internal/auth/session"
	"turnstile/cmd/internal/events"
	"turnstile/cmd/security/password"
	"turnstile/cmd/security/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "empty host", in: ":7070", want: "http://127.0.0.1:7070"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://auth.example.com", want: "wss://auth.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func testConfig() Config {
	sess := session.DefaultConfig()
	sess.AccessSecret = strings.Repeat("a", 32)
	sess.RefreshSecret = strings.Repeat("r", 32)

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	return Config{
		HTTPAddr:       "127.0.0.1:0",
		RefreshBackend: RefreshBackendStore,
		Session:        sess,
		Auth:           authapi.DefaultConfig(),
		Events:         events.DefaultConfig(),
		Password:       pw,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postJSON(t *testing.T, url, bearer string, body any) *http.Response {
	t.Helper()

	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestApp_RedisRefreshSlotEndToEnd(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.RefreshBackend = RefreshBackendRedis

	a, err := New(context.Background(), cfg, quietLogger(), WithRedis(rdb), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	creds := map[string]string{"email": "ada@example.com", "password": "correct horse"}

	resp := postJSON(t, srv.URL+"/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var user struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	require.NotEmpty(t, user.ID)

	resp = postJSON(t, srv.URL+"/auth/login", "", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))
	require.NotEmpty(t, pair.AccessToken)

	slotKey := session.DefaultRedisPrefix + user.ID
	require.True(t, mr.Exists(slotKey), "refresh hash must live in redis")
	stored, err := mr.Get(slotKey)
	require.NoError(t, err)
	assert.NotContains(t, stored, pair.RefreshToken)

	resp = postJSON(t, srv.URL+"/auth/refresh", "", map[string]string{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))

	resp = postJSON(t, srv.URL+"/auth/logout", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, mr.Exists(slotKey), "logout must clear the slot")

	for _, path := range []string{"/healthz", "/readyz"} {
		r, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = r.Body.Close()
		assert.Equal(t, http.StatusOK, r.StatusCode, path)
	}

	r, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "turnstile_http_request_duration_seconds")
	assert.Contains(t, string(body), `turnstile_session_events_total{kind="session.logout"} 1`)
}

func TestApp_ReadinessReportsRedisDown(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.RefreshBackend = RefreshBackendRedis

	a, err := New(context.Background(), cfg, quietLogger(), WithRedis(rdb), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	mr.Close()

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestApp_CloseReleasesBackends(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.RefreshBackend = RefreshBackendRedis

	a, err := New(context.Background(), cfg, quietLogger(), WithRedis(rdb), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, rdb.Ping(context.Background()).Err())

	require.NoError(t, a.Close(context.Background()))
	assert.ErrorIs(t, rdb.Ping(context.Background()).Err(), redis.ErrClosed)
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")

	cfg := testConfig()
	cfg.ReadinessRequireDB = true

	a, err := New(context.Background(), cfg, quietLogger(), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestApp_EventsRouteRequiresToken(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")

	a, err := New(context.Background(), testConfig(), quietLogger(), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/events", nil)
	req.Header.Set("Origin", "http://localhost")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestNew_RejectsInvalidSessionConfig(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")

	cfg := testConfig()
	cfg.Session.RefreshSecret = cfg.Session.AccessSecret

	_, err := New(context.Background(), cfg, quietLogger(), WithRegistry(prometheus.NewRegistry()))
	require.ErrorIs(t, err, session.ErrConfig)
}
