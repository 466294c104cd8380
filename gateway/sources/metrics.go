package sources

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dataRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_data_source_requests_total",
		Help: "Total data requests handled per source class and outcome.",
	}, []string{"source", "outcome"})
	firstChunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_first_chunk_latency_seconds",
		Help:    "Latency until the first chunk of a reassembled stream was available.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	chunksStreamedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_chunks_streamed_total",
		Help: "Total chunks emitted into reassembled data streams.",
	})
	chunkValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_peer_chunk_validation_failures_total",
		Help: "Total chunks from peers that failed proof validation.",
	})
	metadataRaceLosers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_chunk_metadata_race_cancellations_total",
		Help: "Metadata source attempts cancelled because a sibling won the race.",
	})
)
