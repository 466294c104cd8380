package arns

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/permagate/permagate/config/params"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// CachedResolver memoizes another resolver. Records stay cached for
// their registry TTL, falling back to NameResolveTTL for records that
// carry none, and concurrent lookups of the same name collapse into a
// single upstream call.
type CachedResolver struct {
	inner Resolver
	cache *ristretto.Cache
	group singleflight.Group
}

// NewCachedResolver wraps inner with a TTL cache sized from the active
// gateway config.
func NewCachedResolver(inner Resolver) (*CachedResolver, error) {
	entries := params.Gateway().NameCacheEntries
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: entries * 10,
		MaxCost:     entries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create name cache")
	}
	return &CachedResolver{inner: inner, cache: c}, nil
}

// Resolve implements Resolver.
func (r *CachedResolver) Resolve(ctx context.Context, name string) (*Resolution, error) {
	if v, ok := r.cache.Get(name); ok {
		resolutionCacheHits.Inc()
		return v.(*Resolution), nil
	}
	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		if v, ok := r.cache.Get(name); ok {
			resolutionCacheHits.Inc()
			return v, nil
		}
		res, err := r.inner.Resolve(ctx, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				resolutionsTotal.WithLabelValues("miss").Inc()
			} else {
				resolutionsTotal.WithLabelValues("error").Inc()
			}
			return nil, err
		}
		ttl := time.Duration(res.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = params.Gateway().NameResolveTTL
		}
		r.cache.SetWithTTL(name, res, 1, ttl)
		resolutionsTotal.WithLabelValues("resolved").Inc()
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolution), nil
}
