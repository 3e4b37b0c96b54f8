package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"turnstile/cmd/internal/auth/session"

	"github.com/go-chi/chi/v5"
)

// Handler wires HTTP auth endpoints to the session service.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Service
	audit    Auditor
	throttle *loginThrottle

	now func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditor adds an audit sink. Without one, entries go to the handler's logger.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if h == nil || a == nil {
			return
		}
		if existing, ok := h.audit.(multiAuditor); ok {
			h.audit = append(existing, a)
			return
		}
		h.audit = multiAuditor{a}
	}
}

// WithNow overrides the clock used for login throttling.
func WithNow(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h != nil && now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.clamped()

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		throttle: newLoginThrottle(cfg),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	if h.audit == nil {
		h.audit = LogAuditor{Log: log}
	}
	return h, nil
}

// Routes mounts the /auth endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.Post("/refresh", h.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Get("/profile", h.handleProfile)
			r.Post("/logout", h.handleLogout)
		})
	})
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !readJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	ip := ipString(clientIP(r, h.cfg.TrustProxy))
	ua := strings.TrimSpace(r.UserAgent())

	u, err := h.sessions.Register(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyExists):
			h.audit.Audit(ctx, AuditEntry{Action: "auth.register.conflict", IP: ip, UserAgent: ua})
			writeError(w, http.StatusUnauthorized, "already_exists", "user already exists")
		case errors.Is(err, session.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid email or password")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.audit.Audit(ctx, AuditEntry{Action: "auth.register.success", UserID: u.ID, IP: ip, UserAgent: ua})
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !readJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := ipString(clientIP(r, h.cfg.TrustProxy))
	ua := strings.TrimSpace(r.UserAgent())
	key := throttleKey(req.Email)

	if blocked, retryAfter := h.throttle.check(ip, key, now); blocked {
		h.audit.Audit(ctx, AuditEntry{
			Action:    "auth.login.rate_limited",
			IP:        ip,
			UserAgent: ua,
			Meta:      map[string]any{"retry_after_s": int64(retryAfter.Seconds())},
		})
		writeRateLimited(w, retryAfter)
		return
	}

	pair, u, err := h.sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.throttle.recordFailure(ip, key, now)
			h.audit.Audit(ctx, AuditEntry{Action: "auth.login.failed", IP: ip, UserAgent: ua})
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.throttle.reset(key)
	h.audit.Audit(ctx, AuditEntry{Action: "auth.login.success", UserID: u.ID, IP: ip, UserAgent: ua})
	writeJSON(w, http.StatusOK, toTokenPairResponse(pair))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// Anything short of a readable token is a denied refresh, not a bad request.
	var req refreshRequest
	if r.ContentLength != 0 {
		err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req, false)
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
			return
		}
		if err != nil {
			req = refreshRequest{}
		}
	}

	refreshToken := strings.TrimSpace(req.token())
	if refreshToken == "" {
		writeError(w, http.StatusForbidden, "access_denied", "access denied")
		return
	}

	ctx := r.Context()
	ip := ipString(clientIP(r, h.cfg.TrustProxy))
	ua := strings.TrimSpace(r.UserAgent())

	pair, err := h.sessions.RefreshWithToken(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken):
			writeError(w, http.StatusForbidden, "invalid_or_expired", "refresh token invalid or expired")
		case errors.Is(err, session.ErrAccessDenied):
			h.audit.Audit(ctx, AuditEntry{Action: "auth.refresh.denied", IP: ip, UserAgent: ua})
			writeError(w, http.StatusForbidden, "access_denied", "access denied")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toTokenPairResponse(pair))
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, profileResponse{Email: claims.Email, Subject: claims.Subject})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := ClaimsFromContext(ctx)

	if err := h.sessions.Logout(ctx, claims.Subject); err != nil {
		h.log.Error("auth.logout.fail", "err", err, "user_id", claims.Subject)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit.Audit(ctx, AuditEntry{
		Action:    "auth.logout",
		UserID:    claims.Subject,
		IP:        ipString(clientIP(r, h.cfg.TrustProxy)),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	})
	writeJSON(w, http.StatusOK, true)
}

// ---- middleware ----

// RequireAuth rejects requests without a valid access token and stores the
// verified claims on the request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := BearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := h.sessions.Issuer().VerifyAccess(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}
