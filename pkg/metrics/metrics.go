package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mongobridge"

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Driver sessions created by the session binding coordinator or transaction manager.",
	})
	sessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_closed_total",
		Help:      "Driver sessions closed during resource release.",
	})
	transactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Driver transaction lifecycle events by outcome.",
	}, []string{"outcome"})
	mappingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mapping_errors_total",
		Help:      "Execution context construction failures by error kind.",
	}, []string{"kind"})
)

// Transaction outcomes.
const (
	OutcomeBegun     = "begun"
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
	OutcomeFailed    = "failed"
)

func SessionStarted() { sessionsStarted.Inc() }

func SessionClosed() { sessionsClosed.Inc() }

func Transaction(outcome string) { transactions.WithLabelValues(outcome).Inc() }

func MappingError(kind string) { mappingErrors.WithLabelValues(kind).Inc() }
