package manifest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_manifest_resolutions_total",
		Help: "Manifest path resolutions by answering layer and outcome.",
	}, []string{"source", "outcome"})
	parseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_manifest_parse_failures_total",
		Help: "Manifest documents that failed to parse.",
	})
)
