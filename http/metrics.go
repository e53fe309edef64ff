package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	relayed  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relayer_http_requests_total",
			Help: "Total number of API requests by route and status",
		}, []string{"route", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relayer_http_request_duration_seconds",
			Help:    "Time taken to serve an API request",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relayer_transactions_total",
			Help: "Total number of transactions submitted by kind and outcome",
		}, []string{"kind", "outcome"}),

		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relayer_rejections_total",
			Help: "Total number of requests rejected during simulation by error code",
		}, []string{"code"}),
	}
}

func (m *metrics) observe(route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}
