package delivery

import "github.com/prometheus/client_golang/prometheus"

// Labels for tasksTotal.
const (
	resultSent      = "sent"
	resultRetried   = "retried"
	resultDiscarded = "discarded"
)

var (
	// tasksTotal counts resolved delivery tasks by outcome.
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_tasks_total",
			Help: "Delivery tasks resolved, by outcome (sent|retried|discarded).",
		},
		[]string{"outcome"},
	)

	// claimErrors counts failures to begin a transaction or claim a task.
	claimErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_claim_errors_total",
			Help: "Errors while claiming delivery tasks.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal, claimErrors)
}
