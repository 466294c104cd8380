package sources

import (
	"context"
	"testing"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/testing/assert"
	"github.com/permagate/permagate/testing/require"
	"github.com/pkg/errors"
)

func TestFullChunkSource_AlignsDataLookup(t *testing.T) {
	meta := &arweave.ChunkMetadata{
		DataRoot:  []byte{1, 2, 3},
		DataSize:  1000,
		Offset:    200,
		ChunkSize: 100,
		Hash:      []byte{9, 9, 9},
	}
	metadata := metadataSourceFunc(func(_ context.Context, _, _ uint64, _ []byte, relativeOffset uint64) (*arweave.ChunkMetadata, error) {
		require.Equal(t, uint64(250), relativeOffset)
		return meta, nil
	})
	var dataAbsolute, dataRelative uint64
	data := chunkDataSourceFunc(func(_ context.Context, _, absoluteOffset uint64, _ []byte, relativeOffset uint64) (*arweave.ChunkData, error) {
		dataAbsolute = absoluteOffset
		dataRelative = relativeOffset
		return &arweave.ChunkData{Chunk: []byte("chunk bytes"), Hash: []byte{9, 9, 9}}, nil
	})

	src := NewFullChunkSource(metadata, data)
	chunk, err := src.Chunk(context.Background(), 1000, 5250, meta.DataRoot, 250)
	require.NoError(t, err)

	// The request hit offset 250 mid-chunk; the data lookup must use
	// the proven chunk start instead.
	assert.Equal(t, uint64(200), dataRelative)
	assert.Equal(t, uint64(5200), dataAbsolute)
	assert.Equal(t, uint64(5200), chunk.AbsoluteOffset)
	assert.DeepEqual(t, *meta, chunk.ChunkMetadata)
	assert.Equal(t, "chunk bytes", string(chunk.Chunk))
}

func TestFullChunkSource_MetadataFailureStopsLookup(t *testing.T) {
	metadata := metadataSourceFunc(func(_ context.Context, _, _ uint64, _ []byte, _ uint64) (*arweave.ChunkMetadata, error) {
		return nil, errors.Wrap(ErrNotFound, "no metadata")
	})
	dataCalled := false
	data := chunkDataSourceFunc(func(_ context.Context, _, _ uint64, _ []byte, _ uint64) (*arweave.ChunkData, error) {
		dataCalled = true
		return nil, nil
	})

	_, err := NewFullChunkSource(metadata, data).Chunk(context.Background(), 1000, 5000, nil, 0)
	require.Equal(t, true, errors.Is(err, ErrNotFound))
	assert.Equal(t, false, dataCalled)
}
