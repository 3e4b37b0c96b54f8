package events

import (
	"context"
	"log/slog"
	"sync"

	"turnstile/cmd/internal/auth/session"

	"github.com/prometheus/client_golang/prometheus"
)

// Hub tracks connected clients per user and fans session events out to them.
// It implements session.Observer.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Client

	connections prometheus.Gauge
	dropped     prometheus.Counter
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithRegisterer exports connection and drop counters.
func WithRegisterer(reg prometheus.Registerer) HubOption {
	return func(h *Hub) {
		if reg == nil {
			return
		}
		conns := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turnstile_events_connections",
			Help: "Open session event sockets.",
		})
		dropped := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_events_dropped_total",
			Help: "Session event frames dropped under backpressure.",
		})
		if err := reg.Register(conns); err == nil {
			h.connections = conns
		}
		if err := reg.Register(dropped); err == nil {
			h.dropped = dropped
		}
	}
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:   log,
		users: make(map[string]map[string]*Client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Join registers client under its user.
func (h *Hub) Join(client *Client) {
	if h == nil || client == nil || client.UserID == "" || client.ConnID == "" {
		return
	}

	h.mu.Lock()
	conns, ok := h.users[client.UserID]
	if !ok {
		conns = make(map[string]*Client)
		h.users[client.UserID] = conns
	}
	conns[client.ConnID] = client
	h.mu.Unlock()

	if h.connections != nil {
		h.connections.Inc()
	}
	h.log.Info("events.client.join", "user_id", client.UserID, "conn_id", client.ConnID)
}

// Leave removes a client and signals its shutdown.
func (h *Hub) Leave(client *Client) {
	if h == nil || client == nil {
		return
	}

	removed := false
	h.mu.Lock()
	if conns, ok := h.users[client.UserID]; ok {
		if _, ok := conns[client.ConnID]; ok {
			delete(conns, client.ConnID)
			removed = true
		}
		if len(conns) == 0 {
			delete(h.users, client.UserID)
		}
	}
	h.mu.Unlock()

	// Membership is dropped before Close so publishers never hold a closing client.
	client.Close()

	if removed {
		if h.connections != nil {
			h.connections.Dec()
		}
		h.log.Info("events.client.leave", "user_id", client.UserID, "conn_id", client.ConnID)
	}
}

// Connected returns the number of open clients for userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Publish delivers env to every client of userID. It never blocks; a full
// queue drops the frame for that client.
func (h *Hub) Publish(userID string, env Envelope) int {
	if h == nil || userID == "" {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.users[userID] {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
			delivered++
		default:
			if h.dropped != nil {
				h.dropped.Inc()
			}
		}
	}
	return delivered
}

// ObserveSession forwards session events to the affected user's sockets.
func (h *Hub) ObserveSession(_ context.Context, ev session.Event) {
	if ev.UserID == "" {
		return
	}
	h.Publish(ev.UserID, SessionEnvelope(ev))
}
