package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prdflow"

// Metrics holds the collectors for one process. Each Metrics owns its own
// registry so several can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	finished    *prometheus.CounterVec
	stages      prometheus.Histogram
	reconnects  prometheus.Counter
	delays      prometheus.Histogram
}

// NewMetrics creates and registers the session and reconnect collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of workflow events delivered, by kind",
			},
			[]string{"kind"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events skipped or rejected by the state machine, by reason",
			},
			[]string{"reason"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Session state transitions",
			},
			[]string{"from", "to"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_finished_total",
				Help:      "Sessions that reached a terminal state",
			},
			[]string{"state"},
		),
		stages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_stages",
			Help:      "Number of stage results held by a session when it finished",
			Buckets:   prometheus.LinearBuckets(0, 1, 8),
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts scheduled",
		}),
		delays: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Delay before each scheduled reconnection attempt",
			Buckets:   []float64{0.5, 1, 2, 3, 4, 8, 10, 30},
		}),
	}
	m.registry.MustRegister(m.events, m.dropped, m.transitions, m.finished, m.stages, m.reconnects, m.delays)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks returns session hooks that record events, drops and transitions.
func (m *Metrics) Hooks() session.Hooks {
	return session.Hooks{
		OnEvent: func(_ context.Context, ev domain.Event) {
			m.events.WithLabelValues(string(ev.Kind())).Inc()
		},
		OnDropped: func(_ context.Context, _ domain.Event, err error) {
			m.dropped.WithLabelValues(dropReason(err)).Inc()
		},
		OnTransition: func(_ context.Context, t session.Transition) {
			m.transitions.WithLabelValues(string(t.From), string(t.To)).Inc()
			if t.To.Terminal() {
				m.finished.WithLabelValues(string(t.To)).Inc()
				m.stages.Observe(float64(len(t.Session.Stages)))
			}
		},
	}
}

// ReconnectHook returns a schedule hook for channel.WithScheduleHook.
func (m *Metrics) ReconnectHook() func(attempt int, delay time.Duration) {
	return func(_ int, delay time.Duration) {
		m.reconnects.Inc()
		m.delays.Observe(delay.Seconds())
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrDecode):
		return "decode"
	case errors.Is(err, domain.ErrProtocol):
		return "protocol"
	default:
		return "other"
	}
}
