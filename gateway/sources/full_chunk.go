package sources

import (
	"context"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
)

// FullChunkSource joins a metadata backend and a data backend into a
// complete chunk source. Metadata is resolved first because the
// requested offset may fall mid-chunk: the data lookup then uses the
// proven chunk-aligned offset, which is the key the caches index by.
type FullChunkSource struct {
	metadata ChunkMetadataByAnySource
	data     ChunkDataByAnySource
}

// NewFullChunkSource creates a chunk source over the given backends.
func NewFullChunkSource(metadata ChunkMetadataByAnySource, data ChunkDataByAnySource) *FullChunkSource {
	return &FullChunkSource{metadata: metadata, data: data}
}

// Chunk resolves the chunk covering relativeOffset, metadata and
// payload both.
func (s *FullChunkSource) Chunk(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.Chunk, error) {
	meta, err := s.metadata.ChunkMetadata(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve chunk metadata")
	}
	// meta.Offset is the chunk's proven start, at or below the offset
	// that was asked about.
	alignedAbsolute := absoluteOffset - (relativeOffset - meta.Offset)
	data, err := s.data.ChunkData(ctx, txSize, alignedAbsolute, dataRoot, meta.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve chunk data")
	}
	return &arweave.Chunk{
		ChunkMetadata:  *meta,
		ChunkData:      *data,
		AbsoluteOffset: alignedAbsolute,
	}, nil
}
