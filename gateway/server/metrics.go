package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_http_requests_total",
		Help: "Total HTTP requests served, by method and status code.",
	}, []string{"method", "code"})
	httpRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "Time to finish one HTTP request, including streaming the body.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	httpBytesServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_http_response_bytes_total",
		Help: "Total response body bytes written to clients.",
	})
	nameResolutionsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_http_name_requests_total",
		Help: "Total requests served through host based name resolution.",
	})
)
