package authclient

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fakeAPI mimics the auth endpoints closely enough to drive the coordinator.
// Exactly one access token and one refresh token are valid at any time.
type fakeAPI struct {
	t *testing.T

	mu      sync.Mutex
	access  string
	refresh string
	gen     int

	refreshCalls  atomic.Int32
	refreshDelay  time.Duration
	refreshStatus int

	srv *httptest.Server
}

const (
	fakeEmail    = "a@x.io"
	fakeSubject  = "01HZZZZZZZZZZZZZZZZZZZZZZZ"
	fakePassword = "pw1"
)

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", f.handleLogin)
	mux.HandleFunc("POST /auth/refresh", f.handleRefresh)
	mux.HandleFunc("GET /auth/profile", f.authed(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]string{"email": fakeEmail, "subject": fakeSubject})
	}))
	mux.HandleFunc("POST /auth/logout", f.authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.refresh = ""
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, true)
	}))
	mux.HandleFunc("POST /echo", f.authed(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) mintLocked(ttl time.Duration) (string, string) {
	f.gen++
	claims := accessClaims{
		Email: fakeEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fakeSubject,
			ID:        fmt.Sprintf("gen-%d", f.gen),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		f.t.Fatalf("sign: %v", err)
	}
	return access, fmt.Sprintf("refresh-%d", f.gen)
}

// issue makes a fresh valid pair, as a login would.
func (f *fakeAPI) issue(ttl time.Duration) (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access, f.refresh = f.mintLocked(ttl)
	return f.access, f.refresh
}

// expireAccess invalidates the current access token server-side.
func (f *fakeAPI) expireAccess() {
	f.mu.Lock()
	f.access = "expired"
	f.mu.Unlock()
}

func (f *fakeAPI) setRefresh(delay time.Duration, status int) {
	f.mu.Lock()
	f.refreshDelay, f.refreshStatus = delay, status
	f.mu.Unlock()
}

func (f *fakeAPI) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+f.access
		f.mu.Unlock()
		if !ok {
			writeTestJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "unauthorized", "message": "invalid token"}})
			return
		}
		next(w, r)
	}
}

func (f *fakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Email != fakeEmail || req.Password != fakePassword {
		writeTestJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "invalid_credentials", "message": "invalid credentials"}})
		return
	}
	access, refresh := f.issue(time.Hour)
	writeTestJSON(w, http.StatusOK, tokenPair{AccessToken: access, RefreshToken: refresh})
}

func (f *fakeAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	delay, status := f.refreshDelay, f.refreshStatus
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if status != 0 || req.RefreshToken == "" || req.RefreshToken != f.refresh {
		writeTestJSON(w, http.StatusForbidden, map[string]any{"error": map[string]string{"code": "access_denied", "message": "access denied"}})
		return
	}
	f.access, f.refresh = f.mintLocked(time.Hour)
	writeTestJSON(w, http.StatusOK, tokenPair{AccessToken: f.access, RefreshToken: f.refresh})
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// expiredToken returns a decodable access token that expired a minute ago.
func expiredToken(t *testing.T) string {
	t.Helper()
	claims := accessClaims{
		Email: fakeEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fakeSubject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

type loginHook struct{ n atomic.Int32 }

func (h *loginHook) fire() { h.n.Add(1) }

func (h *loginHook) count() int { return int(h.n.Load()) }

func bodyOf(r io.Reader) string {
	b, _ := io.ReadAll(r)
	return strings.TrimSpace(string(b))
}
