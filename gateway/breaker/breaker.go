// Package breaker shields the request path from a misbehaving
// dependency. Lookups that are an optimization, such as the cache
// attribute index, run through a circuit breaker so that a slow or
// failing backend degrades into cache misses instead of request
// latency.
package breaker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var log = logrus.WithField("prefix", "breaker")

// ErrOpen is returned by Do while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// Config tunes a Breaker. Zero values fall back to the listed defaults.
type Config struct {
	// Name labels the breaker in logs.
	Name string
	// Timeout bounds a single guarded call. Default 500ms.
	Timeout time.Duration
	// ErrorThreshold is the failure fraction within a window that
	// trips the breaker. Default 0.5.
	ErrorThreshold float64
	// WindowSize is how long counts accumulate before they reset.
	// Default 10s.
	WindowSize time.Duration
	// ResetAfter is how long the breaker stays open before probing
	// again. Default 30s.
	ResetAfter time.Duration
	// MinRequests is the call volume a window needs before the
	// threshold applies. Default 5.
	MinRequests uint32
}

// Breaker guards calls into one dependency.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

// New creates a breaker with the given config.
func New(cfg Config) *Breaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 0.5
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10 * time.Second
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 30 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	settings := gobreaker.Settings{
		Name:     cfg.Name,
		Interval: cfg.WindowSize,
		Timeout:  cfg.ResetAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.ErrorThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("Circuit breaker changed state")
			stateTransitions.WithLabelValues(name, to.String()).Inc()
		},
	}
	return &Breaker{
		cb:      gobreaker.NewCircuitBreaker(settings),
		timeout: cfg.Timeout,
	}
}

// Do runs fn under the breaker with the per-call timeout applied.
// While the breaker is open it returns ErrOpen without invoking fn.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		rejectedTotal.WithLabelValues(b.cb.Name()).Inc()
		return errors.Wrap(ErrOpen, b.cb.Name())
	}
	return err
}

// State reports the breaker's current state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
