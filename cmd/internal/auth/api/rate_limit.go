package authapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// loginThrottle remembers failed logins per client IP and per email.
// State is process-local; it is reset on restart.
type loginThrottle struct {
	mu      sync.Mutex
	byIP    map[string][]time.Time
	byEmail map[string][]time.Time

	ipMax    int
	ipWindow time.Duration
	tiers    []lockoutTier
	horizon  time.Duration
}

func newLoginThrottle(cfg Config) *loginThrottle {
	tiers := cfg.lockoutTiers()
	horizon := cfg.LoginIPWindow
	for _, t := range tiers {
		if t.Duration > horizon {
			horizon = t.Duration
		}
	}
	return &loginThrottle{
		byIP:     make(map[string][]time.Time),
		byEmail:  make(map[string][]time.Time),
		ipMax:    cfg.LoginIPMax,
		ipWindow: cfg.LoginIPWindow,
		tiers:    tiers,
		horizon:  horizon,
	}
}

// check reports whether a login from ip for email must be refused right now.
func (t *loginThrottle) check(ip, email string, now time.Time) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != "" {
		if blocked, retry := evaluateWindowThrottle(now, t.byIP[ip], t.ipMax, t.ipWindow); blocked {
			return true, retry
		}
	}
	if email != "" {
		if blocked, retry := evaluateProgressiveLockout(now, t.byEmail[email], t.tiers); blocked {
			return true, retry
		}
	}
	return false, 0
}

func (t *loginThrottle) recordFailure(ip, email string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cut := now.Add(-t.horizon)
	if ip != "" {
		t.byIP[ip] = appendPruned(t.byIP[ip], now, cut)
	}
	if email != "" {
		t.byEmail[email] = appendPruned(t.byEmail[email], now, cut)
	}
}

// reset forgets email failures after a successful login. IP history stays.
func (t *loginThrottle) reset(email string) {
	t.mu.Lock()
	delete(t.byEmail, email)
	t.mu.Unlock()
}

func appendPruned(failures []time.Time, now, cut time.Time) []time.Time {
	kept := failures[:0]
	for _, f := range failures {
		if f.After(cut) {
			kept = append(kept, f)
		}
	}
	return append(kept, now)
}

// evaluateWindowThrottle blocks once max failures fall inside window. The retry
// hint is the time until the oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}

	cut := now.Add(-window)
	var inWindow []time.Time
	for _, f := range failures {
		if f.After(cut) && !f.After(now) {
			inWindow = append(inWindow, f)
		}
	}
	if len(inWindow) < max {
		return false, 0
	}

	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Before(inWindow[j]) })
	// Dropping the oldest len-max+1 entries brings the count back under max.
	release := inWindow[len(inWindow)-max].Add(window)
	return true, release.Sub(now)
}

// evaluateProgressiveLockout picks the first tier whose threshold is met and
// locks until that tier's duration has passed since the latest failure.
// Tiers are checked in order, so pass the most severe first.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}

	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}

	for _, tier := range tiers {
		if tier.Threshold <= 0 || len(failures) < tier.Threshold {
			continue
		}
		until := latest.Add(tier.Duration)
		if !now.Before(until) {
			return false, 0
		}
		return true, until.Sub(now)
	}
	return false, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func throttleKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
