package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qbtcontrol",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qbtcontrol",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	RemoteRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qbtcontrol",
		Name:      "remote_requests_total",
		Help:      "Requests sent to the WebUI API by endpoint and result (2xx, 4xx, 5xx, error).",
	}, []string{"endpoint", "result"})

	RemoteRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qbtcontrol",
		Name:      "remote_request_duration_seconds",
		Help:      "WebUI API request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	SearchOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qbtcontrol",
		Name:      "search_outcomes_total",
		Help:      "Finished search operations by outcome (ok or failure kind).",
	}, []string{"outcome"})

	SearchPollAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qbtcontrol",
		Name:      "search_poll_attempts",
		Help:      "Number of poll attempts used per search operation.",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
	})

	SearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qbtcontrol",
		Name:      "search_duration_seconds",
		Help:      "End-to-end search operation duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 15, 30},
	})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qbtcontrol",
		Name:      "commands_total",
		Help:      "One-shot commands by name and result.",
	}, []string{"command", "result"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RemoteRequestsTotal,
		RemoteRequestDuration,
		SearchOutcomesTotal,
		SearchPollAttempts,
		SearchDuration,
		CommandsTotal,
	)
}

// StatusClass buckets an HTTP status code for the result label.
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "error"
	}
}
