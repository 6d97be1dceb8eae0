package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moshcast_sessions_active",
		Help: "The current number of live broadcast sessions.",
	})
	ActiveListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moshcast_listeners_active",
		Help: "The current number of subscribed listener connections.",
	})
	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moshcast_events_broadcast_total",
		Help: "The total number of events fanned out to rooms.",
	}, []string{"event"})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moshcast_frames_dropped_total",
		Help: "The total number of frames dropped on slow consumers.",
	})
	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moshcast_chat_messages_total",
		Help: "The total number of user chat messages relayed.",
	})
	ActionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moshcast_action_errors_total",
		Help: "The total number of rejected actions by error code.",
	}, []string{"code"})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
