package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"turnstile/cmd/identity"
	"turnstile/cmd/security/password"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = testAccessSecret
	cfg.RefreshSecret = testRefreshSecret
	return cfg
}

func testPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) ObserveSession(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestService(t *testing.T, cfg Config, opts ...ServiceOption) (*Service, *identity.MemoryStore) {
	t.Helper()

	issuer, err := NewIssuer(cfg)
	require.NoError(t, err)

	users := identity.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts = append([]ServiceOption{WithPasswordConfig(testPasswords())}, opts...)
	svc, err := NewService(log, cfg, users, issuer, opts...)
	require.NoError(t, err)
	return svc, users
}
