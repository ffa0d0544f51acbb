package idempotency

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for outcomesTotal.
const (
	outcomeStart    = "start"
	outcomeReplay   = "replay"
	outcomeConflict = "conflict"
	outcomeError    = "error"
)

// outcomesTotal counts BeginOrReplay results.
var outcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "idempotency_outcomes_total",
		Help: "Idempotent request outcomes by kind.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(outcomesTotal)
}
