package events

import (
	"encoding/json"
	"time"

	"turnstile/cmd/internal/auth/session"

	"github.com/google/uuid"
)

// Version is the envelope schema version carried in every frame.
const Version = 1

// Frame types sent by the server.
const (
	TypeHelloAck       = "hello.ack"
	TypeSessionEvent   = "session.event"
	TypeSessionRevoked = "session.revoked"
	TypePong           = "pong"
	TypeError          = "error"
)

// Frame types accepted from clients.
const (
	TypePing = "ping"
)

// Envelope is the JSON frame exchanged on the events socket.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type HelloAckPayload struct {
	ConnID string `json:"conn_id"`
	UserID string `json:"user_id"`
}

// SessionPayload describes one session lifecycle event for the connected user.
type SessionPayload struct {
	Kind   string    `json:"kind"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEnvelope(typ string, payload any, ts time.Time) Envelope {
	env := Envelope{V: Version, Type: typ, ID: uuid.NewString(), TS: ts}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			env.Payload = b
		}
	}
	return env
}

// SessionEnvelope converts a session event into the frame delivered to clients.
// Events that end the session use TypeSessionRevoked.
func SessionEnvelope(ev session.Event) Envelope {
	typ := TypeSessionEvent
	if ev.Kind.Revokes() {
		typ = TypeSessionRevoked
	}
	return newEnvelope(typ, SessionPayload{
		Kind:   string(ev.Kind),
		UserID: ev.UserID,
		At:     ev.At,
	}, ev.At)
}
