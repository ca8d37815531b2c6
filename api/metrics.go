package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequestsTotal counts requests by route template, method and status
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casecraft_http_requests_total",
		Help: "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status"})

	// httpRequestDuration tracks handler latency by route template
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casecraft_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// httpInFlight is the number of requests being served
	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "casecraft_http_requests_in_flight",
		Help: "HTTP requests currently being served",
	})
)
