package arns

import (
	"context"
	"strings"
	"time"

	"github.com/permagate/permagate/gateway/arweave"
)

// Static resolves names from a fixed table keyed by full label. It
// backs standalone deployments that pin a handful of names; the
// authoritative registry stays out of scope.
type Static struct {
	records    map[string]arweave.ID
	ttlSeconds uint64
}

// NewStatic builds a static resolver. A zero TTL lets CachedResolver
// fall back to the configured default lifetime.
func NewStatic(records map[string]arweave.ID, ttlSeconds uint64) *Static {
	cp := make(map[string]arweave.ID, len(records))
	for name, id := range records {
		cp[strings.ToLower(name)] = id
	}
	return &Static{records: cp, ttlSeconds: ttlSeconds}
}

// Resolve implements Resolver.
func (s *Static) Resolve(_ context.Context, name string) (*Resolution, error) {
	name = strings.ToLower(name)
	id, ok := s.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	record, base := SplitName(name)
	return &Resolution{
		Name:       name,
		BaseName:   base,
		Record:     record,
		TxID:       id,
		TTLSeconds: s.ttlSeconds,
		ResolvedAt: time.Now(),
	}, nil
}
