package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopfloor",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Applied status changes broken down by entity kind and target status.",
	}, []string{"kind", "to"})

	denials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopfloor",
		Subsystem: "auth",
		Name:      "denials_total",
		Help:      "Operations refused by the permission matrix.",
	}, []string{"permission"})

	kpiSamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopfloor",
		Subsystem: "kpi",
		Name:      "samples_total",
		Help:      "Recorded KPI values broken down by resulting status.",
	}, []string{"status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shopfloor",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution of API requests.",
		Buckets: []float64{
			0.001, 0.005, 0.01, 0.025,
			0.05, 0.1, 0.25, 0.5,
			1, 2.5,
		},
	}, []string{"method", "route", "code"})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopfloor",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook delivery attempts broken down by result.",
	}, []string{"result"})
)

func RecordTransition(kind, to string) {
	transitions.With(prometheus.Labels{"kind": kind, "to": to}).Inc()
}

func RecordDenial(permission string) {
	denials.With(prometheus.Labels{"permission": permission}).Inc()
}

func RecordKPISample(status string) {
	kpiSamples.With(prometheus.Labels{"status": status}).Inc()
}

func RecordRequest(method, route string, code int, latency time.Duration) {
	httpLatency.With(prometheus.Labels{
		"method": method,
		"route":  route,
		"code":   statusClass(code),
	}).Observe(latency.Seconds())
}

func RecordWebhook(ok bool) {
	result := "failed"
	if ok {
		result = "delivered"
	}
	webhookDeliveries.With(prometheus.Labels{"result": result}).Inc()
}

// statusClass collapses codes to 2xx/4xx/5xx to bound label cardinality.
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
