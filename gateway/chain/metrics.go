package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_trusted_node_requests_total",
		Help: "Total requests sent to the trusted node by outcome.",
	}, []string{"outcome"})
	throttledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_trusted_node_throttled_total",
		Help: "Total requests the trusted node answered with status 429.",
	})
	limiterWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_trusted_node_limiter_waits_total",
		Help: "Times a trusted node request waited on the local rate limiter.",
	})
)
