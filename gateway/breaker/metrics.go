package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_breaker_state_transitions_total",
		Help: "Total circuit breaker state transitions by breaker and new state.",
	}, []string{"name", "state"})
	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_breaker_rejected_total",
		Help: "Total calls rejected while a breaker was open.",
	}, []string{"name"})
)
