package peers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	peersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_peers_total",
		Help: "Number of peers currently known to the peer manager.",
	})
	refreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_peer_refresh_failures_total",
		Help: "Number of peer list refreshes that failed against the trusted node.",
	})
	probeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_peer_probe_failures_total",
		Help: "Number of individual peer info probes that failed during refresh.",
	})
	bucketRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_peer_sync_bucket_refresh_failures_total",
		Help: "Number of sync bucket fetches that failed or did not parse.",
	})
	reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_peer_reports_total",
		Help: "Number of peer feedback reports applied, by category and outcome.",
	}, []string{"category", "outcome"})
)
