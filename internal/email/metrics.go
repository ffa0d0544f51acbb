package email

import "github.com/prometheus/client_golang/prometheus"

// sendTotal counts send attempts by transport and result (ok|transient|permanent).
var sendTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "email_send_total",
		Help: "Email send attempts by transport and result.",
	},
	[]string{"transport", "result"},
)

func init() {
	prometheus.MustRegister(sendTotal)
}

func observe(transport string, err error) {
	switch {
	case err == nil:
		sendTotal.WithLabelValues(transport, "ok").Inc()
	case IsPermanent(err):
		sendTotal.WithLabelValues(transport, "permanent").Inc()
	default:
		sendTotal.WithLabelValues(transport, "transient").Inc()
	}
}
