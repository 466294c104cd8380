package sources

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/attributes"
	"github.com/permagate/permagate/gateway/chain"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// TxChunksDataSource reconstructs transaction payloads chunk by chunk,
// each chunk validated against the transaction's data root before its
// bytes are emitted. It is the only source that produces verified
// streams.
type TxChunksDataSource struct {
	chain  ChainSource
	chunks ChunkByAnySource
}

// NewTxChunksDataSource creates a reassembling data source over the
// given chain resolver and chunk backend.
func NewTxChunksDataSource(chainSrc ChainSource, chunks ChunkByAnySource) *TxChunksDataSource {
	return &TxChunksDataSource{chain: chainSrc, chunks: chunks}
}

type fetchResult struct {
	chunk *arweave.Chunk
	err   error
}

// GetData streams the transaction's payload, or the given region of
// it, reassembled from validated chunks.
func (s *TxChunksDataSource) GetData(ctx context.Context, id arweave.ID, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error) {
	txOffset, txSize, dataRoot, err := s.resolvePlacement(ctx, id)
	if err != nil {
		return nil, err
	}
	// The chain records where the transaction ends on the weave.
	start := txOffset - txSize + 1

	if region != nil {
		return s.getRegion(ctx, reqAttrs, start, txSize, dataRoot, region)
	}
	if txSize == 0 {
		return emptyData(reqAttrs), nil
	}

	began := time.Now()
	first, err := s.chunks.Chunk(ctx, txSize, start, dataRoot, 0)
	if err != nil {
		return nil, firstChunkError(err, 0)
	}
	firstChunkLatency.Observe(time.Since(began).Seconds())

	pr, pw := io.Pipe()
	go s.streamFull(ctx, pw, first, start, dataRoot, txSize)
	return &arweave.ContiguousData{
		Stream:            pr,
		Size:              txSize,
		Trusted:           true,
		Verified:          true,
		RequestAttributes: reqAttrs,
	}, nil
}

// resolvePlacement fetches the transaction's end offset and data root
// from the chain source, both concurrently.
func (s *TxChunksDataSource) resolvePlacement(ctx context.Context, id arweave.ID) (uint64, uint64, []byte, error) {
	var (
		txOffset, txSize uint64
		dataRoot         []byte
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txOffset, txSize, err = s.chain.TxOffset(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		dataRoot, err = s.chain.TxDataRoot(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return 0, 0, nil, errors.Wrapf(ErrNotFound, "tx %s is not on the weave", id.String())
		}
		return 0, 0, nil, errors.Wrap(err, "could not resolve tx placement")
	}
	return txOffset, txSize, dataRoot, nil
}

// streamFull writes every chunk of the transaction to the pipe in
// offset order. While the consumer drains one chunk the next fetch is
// already in flight; the pipeline depth is exactly one.
func (s *TxChunksDataSource) streamFull(ctx context.Context, w *io.PipeWriter, first *arweave.Chunk, start uint64, dataRoot []byte, txSize uint64) {
	written := uint64(0)
	current := first
	for {
		chunksStreamedTotal.Inc()
		var next chan fetchResult
		nextOffset := written + uint64(len(current.Chunk))
		if nextOffset < txSize {
			next = make(chan fetchResult, 1)
			go func() {
				c, err := s.chunks.Chunk(ctx, txSize, start+nextOffset, dataRoot, nextOffset)
				next <- fetchResult{chunk: c, err: err}
			}()
		}
		if _, err := w.Write(current.Chunk); err != nil {
			// Consumer closed the stream.
			return
		}
		written = nextOffset
		if next == nil {
			w.Close()
			return
		}
		r := <-next
		if r.err != nil {
			log.WithError(r.err).WithField("offset", written).Debug("Chunk fetch failed mid-stream")
			w.CloseWithError(errors.Wrapf(r.err, "chunk at offset %d", written))
			return
		}
		current = r.chunk
	}
}

// getRegion streams the byte range [region.Offset, region.End()) of
// the transaction payload.
func (s *TxChunksDataSource) getRegion(ctx context.Context, reqAttrs *attributes.RequestAttributes, start, txSize uint64, dataRoot []byte, region *arweave.Region) (*arweave.ContiguousData, error) {
	rangeStart := region.Offset
	rangeEnd := region.End()
	if rangeStart >= txSize {
		return nil, errors.Wrapf(ErrRangeUnsatisfiable, "range start %d beyond payload size %d", rangeStart, txSize)
	}
	if rangeEnd > txSize {
		rangeEnd = txSize
	}
	if rangeStart == rangeEnd {
		return emptyData(reqAttrs), nil
	}

	began := time.Now()
	first, err := s.chunks.Chunk(ctx, txSize, start+rangeStart, dataRoot, rangeStart)
	if err != nil {
		return nil, firstChunkError(err, rangeStart)
	}
	firstChunkLatency.Observe(time.Since(began).Seconds())

	pr, pw := io.Pipe()
	go s.streamRange(ctx, pw, first, start, dataRoot, txSize, rangeStart, rangeEnd)
	return &arweave.ContiguousData{
		Stream:            pr,
		Size:              rangeEnd - rangeStart,
		Trusted:           true,
		Verified:          true,
		RequestAttributes: reqAttrs,
	}, nil
}

// streamRange writes the chunks covering [rangeStart, rangeEnd) to the
// pipe, trimming the first chunk's prefix and the last chunk's suffix.
// A producer goroutine runs ahead of the consumer by up to the
// configured prefetch window.
func (s *TxChunksDataSource) streamRange(ctx context.Context, w *io.PipeWriter, first *arweave.Chunk, start uint64, dataRoot []byte, txSize, rangeStart, rangeEnd uint64) {
	window := params.Gateway().RangePrefetchWindow
	if window < 1 {
		window = 1
	}
	prodCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan fetchResult, window)
	go func() {
		defer close(results)
		results <- fetchResult{chunk: first}
		cursor := first.Offset + first.ChunkSize
		for cursor < rangeEnd {
			c, err := s.chunks.Chunk(prodCtx, txSize, start+cursor, dataRoot, cursor)
			select {
			case results <- fetchResult{chunk: c, err: err}:
			case <-prodCtx.Done():
				return
			}
			if err != nil {
				return
			}
			cursor = c.Offset + c.ChunkSize
		}
	}()

	emitted := uint64(0)
	want := rangeEnd - rangeStart
	for r := range results {
		if r.err != nil {
			log.WithError(r.err).WithField("offset", rangeStart+emitted).Debug("Chunk fetch failed mid-range")
			w.CloseWithError(errors.Wrapf(r.err, "chunk at offset %d", rangeStart+emitted))
			return
		}
		chunk := r.chunk
		chunksStreamedTotal.Inc()
		lo := uint64(0)
		if pos := rangeStart + emitted; pos > chunk.Offset {
			lo = pos - chunk.Offset
		}
		hi := uint64(len(chunk.Chunk))
		if chunk.Offset+hi > rangeEnd {
			hi = rangeEnd - chunk.Offset
		}
		if _, err := w.Write(chunk.Chunk[lo:hi]); err != nil {
			// Consumer closed the stream; the deferred cancel stops
			// the producer.
			return
		}
		emitted += hi - lo
		if emitted >= want {
			break
		}
	}
	w.Close()
}

// firstChunkError maps a failed first-chunk fetch onto the source
// contract: cancellation and terminal conditions pass through, any
// other failure means the payload is unavailable here.
func firstChunkError(err error, relativeOffset uint64) error {
	if IsCancelled(err) || IsPermanent(err) {
		return err
	}
	return errors.Wrapf(ErrNotFound, "first chunk at offset %d unavailable: %v", relativeOffset, err)
}

func emptyData(reqAttrs *attributes.RequestAttributes) *arweave.ContiguousData {
	return &arweave.ContiguousData{
		Stream:            io.NopCloser(bytes.NewReader(nil)),
		Size:              0,
		Trusted:           true,
		Verified:          true,
		RequestAttributes: reqAttrs,
	}
}
