package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "groupquiz"

var (
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "dispatched_total",
		Help:      "Events dispatched to handlers, by event name.",
	}, []string{"event"})

	EventHandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "handler_failures_total",
		Help:      "Event handlers that returned an error or panicked, by event name.",
	}, []string{"event"})

	SessionActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "actions_total",
		Help:      "Session actions handled by the API, by action and result code.",
	}, []string{"action", "code"})

	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "swept_total",
		Help:      "Finished sessions removed by the retention sweep.",
	})

	LeaderboardCredits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "leaderboard",
		Name:      "credits_total",
		Help:      "Finished attempts folded into the global leaderboard.",
	})
)
