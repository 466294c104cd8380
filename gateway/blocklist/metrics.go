package blocklist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesLoaded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_blocklist_entries",
		Help: "Blocklist entries currently loaded, by kind.",
	}, []string{"kind"})
	reloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_blocklist_reloads_total",
		Help: "Total successful blocklist reloads triggered by file changes.",
	})
)
