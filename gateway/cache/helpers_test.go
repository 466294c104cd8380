package cache

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/attributes"
	"github.com/permagate/permagate/gateway/db/kv"
	"github.com/permagate/permagate/gateway/sources"
	"github.com/permagate/permagate/gateway/store"
	"github.com/permagate/permagate/testing/require"
	"github.com/pkg/errors"
)

func setupCacheConfig(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	params.OverrideGatewayConfig(params.MinimalTestConfig())
}

func newTestStores(t *testing.T) (*store.DataStore, *kv.Store) {
	dataStore, err := store.NewDataStore(t.TempDir())
	require.NoError(t, err)
	idx, err := kv.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, idx.Close())
	})
	return dataStore, idx
}

func testID(b byte) arweave.ID {
	var id arweave.ID
	for i := range id {
		id[i] = b
	}
	return id
}

func testRoot(b byte) []byte {
	root := make([]byte, arweave.HashSize)
	for i := range root {
		root[i] = b
	}
	return root
}

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func drain(t *testing.T, data *arweave.ContiguousData) []byte {
	body, err := io.ReadAll(data.Stream)
	require.NoError(t, err)
	require.NoError(t, data.Stream.Close())
	return body
}

type chunkDataSourceFunc func(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkData, error)

func (f chunkDataSourceFunc) ChunkData(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkData, error) {
	return f(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
}

// countingSource serves a fixed payload, honouring regions, and counts
// how often it was consulted.
type countingSource struct {
	payload    []byte
	verified   bool
	calls      int
	lastRegion *arweave.Region
}

func (s *countingSource) GetData(_ context.Context, _ arweave.ID, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error) {
	s.calls++
	s.lastRegion = region
	data := s.payload
	if region != nil {
		if region.Offset >= uint64(len(data)) {
			return nil, errors.Wrap(sources.ErrRangeUnsatisfiable, "range start past payload end")
		}
		end := region.End()
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		data = data[region.Offset:end]
	}
	return &arweave.ContiguousData{
		Stream:            io.NopCloser(bytes.NewReader(data)),
		Size:              uint64(len(data)),
		Trusted:           true,
		Verified:          s.verified,
		RequestAttributes: reqAttrs,
	}, nil
}
