package sources

import (
	"context"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/chain"
	"github.com/pkg/errors"
)

// TrustedNodeChunkSource fetches chunks from the configured trusted
// node. It bypasses peer scoring entirely; rate limiting and retry
// live in the chain client underneath.
type TrustedNodeChunkSource struct {
	fetcher ChunkFetcher
}

// NewTrustedNodeChunkSource creates a chunk source backed by the
// trusted node.
func NewTrustedNodeChunkSource(fetcher ChunkFetcher) *TrustedNodeChunkSource {
	return &TrustedNodeChunkSource{fetcher: fetcher}
}

// Chunk fetches and validates the chunk covering relativeOffset.
func (s *TrustedNodeChunkSource) Chunk(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.Chunk, error) {
	wire, err := s.fetcher.Chunk(ctx, absoluteOffset)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "trusted node has no chunk at offset %d", absoluteOffset)
		}
		return nil, err
	}
	chunk, err := wire.Decode(dataRoot, int64(relativeOffset), int64(txSize))
	if err != nil {
		return nil, errors.Wrap(err, "could not validate trusted node chunk")
	}
	chunk.AbsoluteOffset = absoluteOffset - (relativeOffset - chunk.Offset)
	return chunk, nil
}

// ChunkMetadata fetches the chunk covering relativeOffset and returns
// its metadata.
func (s *TrustedNodeChunkSource) ChunkMetadata(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkMetadata, error) {
	chunk, err := s.Chunk(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
	if err != nil {
		return nil, err
	}
	return &chunk.ChunkMetadata, nil
}

// ChunkData fetches the chunk covering relativeOffset and returns its
// payload.
func (s *TrustedNodeChunkSource) ChunkData(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkData, error) {
	chunk, err := s.Chunk(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
	if err != nil {
		return nil, err
	}
	return &chunk.ChunkData, nil
}
