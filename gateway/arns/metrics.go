package arns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_arns_resolutions_total",
		Help: "Total name resolutions per outcome.",
	}, []string{"outcome"})
	resolutionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_arns_cache_hits_total",
		Help: "Total name resolutions answered from the cache.",
	})
)
