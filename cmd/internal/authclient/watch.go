package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

const eventsSubprotocol = "turnstile.events.v1"

type eventFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sessionEventPayload struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id"`
}

// WatchEvents follows the server's session event stream for the signed-in
// user. A revocation (logout elsewhere, or refresh-token reuse) clears the
// stored tokens, which every other handle observes as a logout. It returns
// nil after a revocation and ctx.Err() when ctx ends.
func (c *Coordinator) WatchEvents(ctx context.Context) error {
	s := c.Session()
	if !s.Authenticated() || s.User == nil {
		return ErrNotAuthenticated
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.AccessToken)
	h.Set("Origin", c.baseURL)
	conn, resp, err := websocket.Dial(ctx, wsURL(c.baseURL)+pathEvents, &websocket.DialOptions{
		HTTPClient:   c.raw,
		HTTPHeader:   h,
		Subprotocols: []string{eventsSubprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrNotAuthenticated
		}
		return err
	}
	defer func() { _ = conn.CloseNow() }()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
				return nil
			}
			return err
		}

		var f eventFrame
		if json.Unmarshal(data, &f) != nil || f.Type != "session.revoked" {
			continue
		}
		var p sessionEventPayload
		if json.Unmarshal(f.Payload, &p) != nil || p.UserID != s.User.Subject {
			continue
		}

		c.log.Info("authclient.events.revoked", "kind", p.Kind)
		if p.Kind == "session.reuse_revoked" {
			c.expire(ctx)
		} else {
			if err := c.clearStorage(ctx); err != nil {
				return err
			}
			c.signOut(Session.anonymous)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "revoked")
		return nil
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
