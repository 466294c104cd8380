package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunkCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_chunk_cache_lookups_total",
		Help: "Chunk cache lookups by layer that answered them.",
	}, []string{"layer"})
	dataCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_data_cache_lookups_total",
		Help: "Data cache lookups by outcome.",
	}, []string{"outcome"})
	dataCacheWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_data_cache_write_failures_total",
		Help: "Background data store writes that failed or were discarded.",
	})
	dataCacheBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_data_cache_bytes_written_total",
		Help: "Bytes committed into the content-addressed data store.",
	})
)
