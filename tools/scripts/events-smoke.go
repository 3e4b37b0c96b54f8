// Package main is a CI-friendly smoke test for a running turnstile server.
//
// It validates:
//   - register + login over HTTP
//   - events handshake with subprotocol selection and hello.ack
//   - ping -> pong
//   - refresh fans a session.event out to every socket of the user
//   - logout delivers session.revoked and the server closes the socket
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	subprotocol  = "turnstile.events.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type helloAck struct {
	ConnID string `json:"conn_id"`
	UserID string `json:"user_id"`
}

type sessionPayload struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type smokeClient struct {
	name   string
	conn   *websocket.Conn
	connID string
	userID string

	inbox chan envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "turnstile base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	base := strings.TrimRight(*baseURL, "/")
	root := context.Background()

	email := fmt.Sprintf("smoke-%s@example.com", uuid.NewString()[:8])
	const password = "smoke test password"

	mustPost(root, base+"/auth/register", "", map[string]string{"email": email, "password": password}, http.StatusCreated, nil, *timeout)

	var pair tokenPair
	mustPost(root, base+"/auth/login", "", map[string]string{"email": email, "password": password}, http.StatusOK, &pair, *timeout)

	a := mustConnect(root, "A", base, *origin, pair.AccessToken, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", base, *origin, pair.AccessToken, *timeout)
	defer closeWS(b.conn)

	if a.userID != b.userID {
		fatalf("hello.ack user mismatch: A=%q B=%q", a.userID, b.userID)
	}
	if *verbose {
		fmt.Printf("connected: A=%s B=%s user=%s origin=%q\n", a.connID, b.connID, a.userID, *origin)
	}

	mustWriteWithTimeout(root, a.conn, envelope{V: 1, Type: "ping", ID: "A-ping", TS: time.Now().UTC()}, *timeout)
	a.mustReadUntilType(root, "pong", *timeout)

	var rotated tokenPair
	mustPost(root, base+"/auth/refresh", "", map[string]string{"refreshToken": pair.RefreshToken}, http.StatusOK, &rotated, *timeout)
	for _, c := range []*smokeClient{a, b} {
		mustAssertSession(root, c, "session.event", "session.refresh", *timeout)
	}

	mustPost(root, base+"/auth/logout", rotated.AccessToken, nil, http.StatusOK, nil, *timeout)
	for _, c := range []*smokeClient{a, b} {
		mustAssertSession(root, c, "session.revoked", "session.logout", *timeout)
		mustAssertClosed(root, c, *timeout)
	}

	fmt.Printf("OK: user=%s A=%s B=%s\n", a.userID, a.connID, b.connID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func eventsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/auth/events"
	default:
		return "ws://" + strings.TrimPrefix(base, "http://") + "/auth/events"
	}
}

func mustPost(parent context.Context, target, bearer string, body any, wantStatus int, out any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(mustJSON(body))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, rd)
	if err != nil {
		fatalf("build request %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fatalf("POST %s: status=%d want=%d body=%s", target, resp.StatusCode, wantStatus, strings.TrimSpace(string(b)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatalf("decode %s: %v", target, err)
		}
	}
}

func mustConnect(parent context.Context, name, base, origin, accessToken string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, eventsURL(base), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ack := c.mustReadUntilType(parent, "hello.ack", stepTimeout)

	var p helloAck
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ConnID) == "" || strings.TrimSpace(p.UserID) == "" {
		fatalf("hello.ack missing conn_id or user_id (%s)", name)
	}
	c.connID, c.userID = p.ConnID, p.UserID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustAssertSession(parent context.Context, c *smokeClient, wantType, wantKind string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, wantType, stepTimeout)

	var p sessionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal %s payload (%s): %v", wantType, c.name, err)
	}
	if p.Kind != wantKind {
		fatalf("%s kind mismatch (%s): got=%q want=%q", wantType, c.name, p.Kind, wantKind)
	}
	if p.UserID != c.userID {
		fatalf("%s user mismatch (%s): got=%q want=%q", wantType, c.name, p.UserID, c.userID)
	}
}

func mustAssertClosed(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("socket not closed after revocation (%s)", c.name)
	case err := <-c.errCh:
		if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
			fatalf("unexpected close (%s): %v", c.name, err)
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == "error" {
				var ep errorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			// Other session events (e.g. a login elsewhere) are not failures.
			if env.Type == "session.event" {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, mustJSON(env)); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
