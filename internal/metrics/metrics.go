// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "liveroom"

// Outcome label values.
const (
	Delivered   = "delivered"
	Dropped     = "dropped"
	UnknownRoom = "unknown_room"

	Accepted = "accepted"
	Rejected = "rejected"

	Synced   = "synced"
	Unsynced = "unsynced"
)

// Metrics owns a private registry so several relays (and tests) can run
// in one process.
type Metrics struct {
	Registry *prometheus.Registry

	Rooms              prometheus.Gauge
	Participants       prometheus.Gauge
	Joins              *prometheus.CounterVec
	Signals            *prometheus.CounterVec
	Strokes            prometheus.Counter
	BoardClears        prometheus.Counter
	ChatMessages       prometheus.Counter
	SessionsTerminated prometheus.Counter
	TimerPersist       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms currently held in memory.",
		}),
		Participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Participants currently attached to a room.",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Join attempts by result.",
		}, []string{"result"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Negotiation messages by kind and routing outcome.",
		}, []string{"kind", "outcome"}),
		Strokes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strokes_total",
			Help:      "Whiteboard strokes accepted.",
		}),
		BoardClears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "board_clears_total",
			Help:      "Whiteboard clears.",
		}),
		ChatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages relayed.",
		}),
		SessionsTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_terminated_total",
			Help:      "Sessions ended because their time ran out.",
		}),
		TimerPersist: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_persist_total",
			Help:      "Session start persistence attempts by outcome.",
		}, []string{"outcome"}),
	}
	m.Registry.MustRegister(
		m.Rooms, m.Participants, m.Joins, m.Signals, m.Strokes,
		m.BoardClears, m.ChatMessages, m.SessionsTerminated, m.TimerPersist,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
