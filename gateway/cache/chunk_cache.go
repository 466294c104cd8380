// Package cache layers read-through caches over the retrieval
// pipeline: a chunk cache that keeps recently fetched chunks in memory
// and on disk, and a data cache that serves whole payloads out of the
// content-addressed store before any network source is consulted.
package cache

import (
	"context"
	"crypto/sha256"
	"strconv"

	gocache "github.com/patrickmn/go-cache"
	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/sources"
	"github.com/permagate/permagate/gateway/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ChunkDataStore is the persistent chunk layer consulted between the
// hot in-memory cache and the wrapped source.
type ChunkDataStore interface {
	Get(dataRoot []byte, relativeOffset uint64) ([]byte, error)
	Put(dataRoot []byte, relativeOffset uint64, data []byte) error
}

// ReadThroughChunkDataCache serves chunk data from a short-TTL hot
// cache keyed by absolute weave offset, then from the filesystem chunk
// store, before delegating to the wrapped source. Fetched chunks are
// written behind to both layers. Misses are never memoized.
type ReadThroughChunkDataCache struct {
	inner sources.ChunkDataByAnySource
	disk  ChunkDataStore
	hot   *gocache.Cache
}

// NewReadThroughChunkDataCache wraps inner with the two cache layers.
// A nil chunkStore disables the persistent layer.
func NewReadThroughChunkDataCache(inner sources.ChunkDataByAnySource, chunkStore ChunkDataStore) *ReadThroughChunkDataCache {
	ttl := params.Gateway().HotChunkTTL
	return &ReadThroughChunkDataCache{
		inner: inner,
		disk:  chunkStore,
		hot:   gocache.New(ttl, 2*ttl),
	}
}

// ChunkData implements sources.ChunkDataByAnySource.
func (c *ReadThroughChunkDataCache) ChunkData(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkData, error) {
	hotKey := strconv.FormatUint(absoluteOffset, 10)
	if v, ok := c.hot.Get(hotKey); ok {
		chunkCacheLookups.WithLabelValues("hot").Inc()
		return v.(*arweave.ChunkData), nil
	}
	if c.disk != nil {
		data, err := c.disk.Get(dataRoot, relativeOffset)
		if err == nil {
			chunkCacheLookups.WithLabelValues("store").Inc()
			hash := sha256.Sum256(data)
			cd := &arweave.ChunkData{Chunk: data, Hash: hash[:]}
			c.hot.Set(hotKey, cd, gocache.DefaultExpiration)
			return cd, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).WithFields(logrus.Fields{
				"dataRoot": arweave.EncodeBase64(dataRoot),
				"offset":   relativeOffset,
			}).Warn("Could not read chunk store")
		}
	}
	chunkCacheLookups.WithLabelValues("source").Inc()
	cd, err := c.inner.ChunkData(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
	if err != nil {
		return nil, err
	}
	c.hot.Set(hotKey, cd, gocache.DefaultExpiration)
	if c.disk != nil {
		if err := c.disk.Put(dataRoot, relativeOffset, cd.Chunk); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"dataRoot": arweave.EncodeBase64(dataRoot),
				"offset":   relativeOffset,
			}).Warn("Could not persist chunk")
		}
	}
	return cd, nil
}
