package sources

import (
	"context"

	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
)

// CompositeChunkMetadataSource races several metadata backends and
// returns the first successful answer. Losing siblings are cancelled;
// only explicit failures count towards the aggregate error.
type CompositeChunkMetadataSource struct {
	sources []ChunkMetadataByAnySource
}

// NewCompositeChunkMetadataSource creates a racing metadata source over
// the given backends, tried in parallel on every call.
func NewCompositeChunkMetadataSource(srcs ...ChunkMetadataByAnySource) *CompositeChunkMetadataSource {
	return &CompositeChunkMetadataSource{sources: srcs}
}

type metadataResult struct {
	meta *arweave.ChunkMetadata
	err  error
}

// ChunkMetadata queries every backend concurrently and returns the
// first success. When all backends fail, the per-backend errors are
// aggregated into an AllSourcesFailedError.
func (s *CompositeChunkMetadataSource) ChunkMetadata(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkMetadata, error) {
	if len(s.sources) == 1 {
		return s.sources[0].ChunkMetadata(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
	}
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so cancelled losers never block on send.
	results := make(chan metadataResult, len(s.sources))
	timeout := params.Gateway().MetadataSourceTimeout
	for _, src := range s.sources {
		go func(src ChunkMetadataByAnySource) {
			childCtx := raceCtx
			if timeout > 0 {
				var cancelChild context.CancelFunc
				childCtx, cancelChild = context.WithTimeout(raceCtx, timeout)
				defer cancelChild()
			}
			meta, err := src.ChunkMetadata(childCtx, txSize, absoluteOffset, dataRoot, relativeOffset)
			results <- metadataResult{meta: meta, err: err}
		}(src)
	}

	var children []error
	for range s.sources {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-results:
			if r.err == nil {
				if losers := len(s.sources) - 1 - len(children); losers > 0 {
					metadataRaceLosers.Add(float64(losers))
				}
				return r.meta, nil
			}
			// A child torn down by the caller's cancellation is not an
			// explicit failure.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			children = append(children, r.err)
		}
	}
	return nil, &AllSourcesFailedError{Children: children}
}
