package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/attributes"
	"github.com/permagate/permagate/gateway/blocklist"
	"github.com/permagate/permagate/gateway/breaker"
	"github.com/permagate/permagate/gateway/sources"
	"github.com/permagate/permagate/gateway/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AttributesIndex is the database slice holding known payload
// attributes keyed by transaction or data item ID.
type AttributesIndex interface {
	DataAttributes(ctx context.Context, id arweave.ID) (*arweave.DataAttributes, error)
	SaveDataAttributes(ctx context.Context, id arweave.ID, attrs *arweave.DataAttributes) error
}

// ContiguousDataStore is the content-addressed store the data cache
// serves payloads from and stages new payloads into.
type ContiguousDataStore interface {
	Get(hash []byte) (io.ReadCloser, uint64, error)
	GetRegion(hash []byte, region *arweave.Region) (io.ReadCloser, error)
	Writer() (*store.DataWriter, error)
}

// ReadThroughDataCache is the outermost data layer, keyed by ID. When
// the attribute index knows a payload's hash the cache serves it
// straight from the content-addressed store. On a miss the wrapped
// source's stream is teed through an incremental SHA-256 into a staged
// store object, committed only when the computed hash agrees with the
// recorded one, or learned when no hash was recorded. Store failures
// never fail the request; region requests are served from the store
// when possible but never staged.
type ReadThroughDataCache struct {
	inner   sources.ContiguousDataSource
	data    ContiguousDataStore
	index   AttributesIndex
	brk     *breaker.Breaker
	blocked blocklist.Checker
}

// NewReadThroughDataCache wraps inner with the content-addressed cache
// layer. A nil breaker gets the default attribute lookup breaker; a nil
// checker disables hash blocking.
func NewReadThroughDataCache(inner sources.ContiguousDataSource, dataStore ContiguousDataStore, index AttributesIndex, brk *breaker.Breaker, blocked blocklist.Checker) *ReadThroughDataCache {
	if brk == nil {
		brk = breaker.New(breaker.Config{Name: "data-attributes"})
	}
	return &ReadThroughDataCache{
		inner:   inner,
		data:    dataStore,
		index:   index,
		brk:     brk,
		blocked: blocked,
	}
}

// GetData implements sources.ContiguousDataSource.
func (c *ReadThroughDataCache) GetData(ctx context.Context, id arweave.ID, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error) {
	attrs := c.lookupAttributes(ctx, id)
	if attrs != nil && len(attrs.Hash) == arweave.HashSize {
		if c.blocked != nil && c.blocked.IsHashBlocked(attrs.Hash) {
			return nil, errors.Wrapf(sources.ErrBlocked, "payload of %s", id)
		}
		data, err := c.fromStore(attrs, reqAttrs, region)
		if err != nil {
			return nil, err
		}
		if data != nil {
			dataCacheLookups.WithLabelValues("hit").Inc()
			return data, nil
		}
	}

	dataCacheLookups.WithLabelValues("miss").Inc()
	data, err := c.inner.GetData(ctx, id, reqAttrs, region)
	if err != nil {
		return nil, err
	}
	if region != nil || c.data == nil {
		return data, nil
	}
	w, err := c.data.Writer()
	if err != nil {
		dataCacheWriteFailures.Inc()
		log.WithError(err).WithField("id", id).Warn("Could not stage data for caching")
		return data, nil
	}
	data.Stream = &cachingStream{
		ctx:    ctx,
		cache:  c,
		id:     id,
		attrs:  attrs,
		source: data,
		rc:     data.Stream,
		writer: w,
		hasher: sha256.New(),
	}
	return data, nil
}

// lookupAttributes consults the attribute index through the circuit
// breaker. Every failure, an open breaker included, degrades to a miss.
func (c *ReadThroughDataCache) lookupAttributes(ctx context.Context, id arweave.ID) *arweave.DataAttributes {
	if c.index == nil {
		return nil
	}
	var attrs *arweave.DataAttributes
	err := c.brk.Do(ctx, func(ctx context.Context) error {
		var lookupErr error
		attrs, lookupErr = c.index.DataAttributes(ctx, id)
		return lookupErr
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			dataCacheLookups.WithLabelValues("breaker_open").Inc()
		} else {
			log.WithError(err).WithField("id", id).Debug("Attribute lookup failed")
		}
		return nil
	}
	return attrs
}

// fromStore serves a payload with a known hash out of the
// content-addressed store. A nil result with a nil error is a miss.
// Range bounds are checked against the recorded payload size, so a
// range that starts past the end fails here without touching the
// wrapped source.
func (c *ReadThroughDataCache) fromStore(attrs *arweave.DataAttributes, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error) {
	if c.data == nil {
		return nil, nil
	}
	if region == nil {
		rc, size, err := c.data.Get(attrs.Hash)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.WithError(err).Warn("Could not read data store")
			}
			return nil, nil
		}
		return &arweave.ContiguousData{
			Stream:            rc,
			Size:              size,
			SourceContentType: attrs.ContentType,
			Cached:            true,
			Trusted:           true,
			Verified:          false,
			RequestAttributes: reqAttrs,
		}, nil
	}
	if region.Offset >= attrs.Size {
		return nil, errors.Wrapf(sources.ErrRangeUnsatisfiable, "range start %d beyond payload size %d", region.Offset, attrs.Size)
	}
	clamped := *region
	if clamped.End() > attrs.Size {
		clamped.Size = attrs.Size - clamped.Offset
	}
	rc, err := c.data.GetRegion(attrs.Hash, &clamped)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).Warn("Could not read data store")
		}
		return nil, nil
	}
	return &arweave.ContiguousData{
		Stream:            rc,
		Size:              clamped.Size,
		SourceContentType: attrs.ContentType,
		Cached:            true,
		Trusted:           true,
		Verified:          false,
		RequestAttributes: reqAttrs,
	}, nil
}

// saveAttributes records the committed payload's attributes, merging
// into whatever the index already knew.
func (c *ReadThroughDataCache) saveAttributes(ctx context.Context, id arweave.ID, known *arweave.DataAttributes, contentHash []byte, size uint64, src *arweave.ContiguousData) {
	if c.index == nil {
		return
	}
	attrs := known
	if attrs == nil {
		attrs = &arweave.DataAttributes{}
	}
	attrs.Hash = contentHash
	attrs.Size = size
	if attrs.ContentType == "" {
		attrs.ContentType = src.SourceContentType
	}
	if attrs.ContentType == arweave.ManifestContentType {
		attrs.IsManifest = true
	}
	if src.Verified {
		attrs.Verified = true
	}
	if err := c.index.SaveDataAttributes(ctx, id, attrs); err != nil {
		log.WithError(err).WithField("id", id).Warn("Could not record data attributes")
	}
}

// cachingStream tees a response stream into a staged store object and
// commits it under the computed SHA-256 once the stream drains. Any
// shortfall, write failure, hash disagreement or blocked hash discards
// the staged object; the bytes already sent to the client are not
// affected.
type cachingStream struct {
	ctx     context.Context
	cache   *ReadThroughDataCache
	id      arweave.ID
	attrs   *arweave.DataAttributes
	source  *arweave.ContiguousData
	rc      io.ReadCloser
	writer  *store.DataWriter
	hasher  hash.Hash
	written uint64
	done    bool
}

func (s *cachingStream) Read(p []byte) (int, error) {
	n, err := s.rc.Read(p)
	if n > 0 && s.writer != nil {
		s.hasher.Write(p[:n])
		if _, werr := s.writer.Write(p[:n]); werr != nil {
			dataCacheWriteFailures.Inc()
			log.WithError(werr).WithField("id", s.id).Warn("Could not write staged data")
			s.discard()
		} else {
			s.written += uint64(n)
		}
	}
	if err != nil {
		if err == io.EOF {
			s.finalize()
		} else if !s.done {
			s.done = true
			s.discard()
		}
	}
	return n, err
}

// Close aborts the staged object when the stream was not fully drained.
func (s *cachingStream) Close() error {
	if !s.done {
		s.done = true
		s.discard()
	}
	return s.rc.Close()
}

func (s *cachingStream) finalize() {
	if s.done {
		return
	}
	s.done = true
	if s.writer == nil {
		return
	}
	if s.written != s.source.Size {
		log.WithFields(logrus.Fields{
			"id":       s.id,
			"expected": s.source.Size,
			"written":  s.written,
		}).Debug("Stream ended short of its declared size, discarding staged data")
		s.discard()
		return
	}
	computed := s.hasher.Sum(nil)
	if s.attrs != nil && len(s.attrs.Hash) == arweave.HashSize && !bytes.Equal(computed, s.attrs.Hash) {
		dataCacheWriteFailures.Inc()
		log.WithFields(logrus.Fields{
			"id":       s.id,
			"expected": hex.EncodeToString(s.attrs.Hash),
			"computed": hex.EncodeToString(computed),
		}).Warn("Streamed data does not match its recorded hash, discarding")
		s.discard()
		return
	}
	if s.cache.blocked != nil && s.cache.blocked.IsHashBlocked(computed) {
		log.WithField("id", s.id).Warn("Streamed data hash is blocked, discarding")
		s.discard()
		return
	}
	if err := s.writer.Commit(computed); err != nil {
		dataCacheWriteFailures.Inc()
		log.WithError(err).WithField("id", s.id).Warn("Could not commit cached data")
		s.writer = nil
		return
	}
	s.writer = nil
	dataCacheBytesWritten.Add(float64(s.written))
	s.cache.saveAttributes(s.ctx, s.id, s.attrs, computed, s.written, s.source)
}

func (s *cachingStream) discard() {
	if s.writer == nil {
		return
	}
	if err := s.writer.Abort(); err != nil {
		log.WithError(err).Debug("Could not abort staged data")
	}
	s.writer = nil
}
