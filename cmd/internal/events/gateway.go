package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"turnstile/cmd/internal/auth/session"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// AccessVerifier validates access tokens. *session.Issuer satisfies it.
type AccessVerifier interface {
	VerifyAccess(token string) (session.Claims, error)
}

// Gateway serves GET /auth/events: an authenticated WebSocket that streams the
// caller's session events until the session is revoked or the peer leaves.
type Gateway struct {
	log      *slog.Logger
	cfg      Config
	hub      *Hub
	verifier AccessVerifier
	patterns []string
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, cfg Config, hub *Hub, verifier AccessVerifier) (*Gateway, error) {
	if hub == nil || verifier == nil {
		return nil, errors.New("events: nil hub or verifier")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.clamped()
	return &Gateway{
		log:      log,
		cfg:      cfg,
		hub:      hub,
		verifier: verifier,
		patterns: originPatterns(cfg.AllowedOrigins),
	}, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := enforceOrigin(r, g.cfg.OriginRequired, g.cfg.AllowedOrigins); err != nil {
		g.log.Info("events.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	raw := accessToken(r)
	if raw == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := g.verifier.VerifyAccess(raw)
	if err != nil {
		g.log.Info("events.reject.token", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{subprotocolV1},
		OriginPatterns: g.patterns,
	})
	if err != nil {
		g.log.Error("events.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != subprotocolV1 {
		g.log.Info("events.reject.subprotocol", "got", sp, "want", subprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	g.serve(r.Context(), conn, claims)
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, claims session.Claims) {
	client := NewClient(claims.Subject, uuid.NewString(), g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// The ack is queued before Join so it is always the first frame.
	client.Send <- newEnvelope(TypeHelloAck, HelloAckPayload{ConnID: client.ConnID, UserID: client.UserID}, time.Now().UTC())
	g.hub.Join(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("events.write.fail", "conn_id", client.ConnID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				if env.Type == TypeSessionRevoked {
					shutdown(websocket.StatusPolicyViolation, "session revoked")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch {
			case isBadJSON(err):
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			case websocket.CloseStatus(err) != -1:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				shutdown(websocket.StatusNormalClosure, "context done")
			case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("events.read.fail", "conn_id", client.ConnID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many frames")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		switch env.Type {
		case TypePing:
			_ = g.enqueue(ctx, client, newEnvelope(TypePong, nil, now))
		default:
			g.trySendError(ctx, client, "unsupported", "unsupported type: "+env.Type)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	_ = g.enqueue(ctx, client, newEnvelope(TypeError, ErrorPayload{Code: code, Message: msg}, time.Now().UTC()))
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// accessToken reads a bearer header, falling back to the access_token query
// parameter for browser sockets that cannot set headers.
func accessToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, tok, ok := strings.Cut(raw, " "); ok && strings.EqualFold(scheme, "Bearer") {
		if tok = strings.TrimSpace(tok); tok != "" {
			return tok
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func isBadJSON(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
