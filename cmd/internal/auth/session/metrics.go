package session

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts session events by kind.
type Metrics struct {
	events *prometheus.CounterVec
}

// NewMetrics registers the session counters on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnstile",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle events by kind.",
		}, []string{"kind"}),
	}
	if err := reg.Register(m.events); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) ObserveSession(_ context.Context, ev Event) {
	m.events.WithLabelValues(string(ev.Kind)).Inc()
}
