package cache

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/sources"
	"github.com/permagate/permagate/gateway/store"
	"github.com/permagate/permagate/testing/require"
	"github.com/pkg/errors"
	logTest "github.com/sirupsen/logrus/hooks/test"
)

func testChunkData(seed byte, size int) *arweave.ChunkData {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i%13)
	}
	hash := sha256.Sum256(data)
	return &arweave.ChunkData{Chunk: data, Hash: hash[:]}
}

func TestChunkCache_HotLayerServesRepeats(t *testing.T) {
	setupCacheConfig(t)
	chunkStore, err := store.NewChunkStore(t.TempDir())
	require.NoError(t, err)
	want := testChunkData(7, 256)
	calls := 0
	inner := chunkDataSourceFunc(func(_ context.Context, _, _ uint64, _ []byte, _ uint64) (*arweave.ChunkData, error) {
		calls++
		return want, nil
	})
	c := NewReadThroughChunkDataCache(inner, chunkStore)
	root := testRoot(1)

	first, err := c.ChunkData(context.Background(), 1000, 5000, root, 0)
	require.NoError(t, err)
	require.DeepEqual(t, want.Chunk, first.Chunk)

	second, err := c.ChunkData(context.Background(), 1000, 5000, root, 0)
	require.NoError(t, err)
	require.DeepEqual(t, want.Chunk, second.Chunk)
	require.Equal(t, 1, calls)
}

func TestChunkCache_StoreLayerSurvivesRestart(t *testing.T) {
	setupCacheConfig(t)
	dir := t.TempDir()
	chunkStore, err := store.NewChunkStore(dir)
	require.NoError(t, err)
	want := testChunkData(3, 300)
	calls := 0
	inner := chunkDataSourceFunc(func(_ context.Context, _, _ uint64, _ []byte, _ uint64) (*arweave.ChunkData, error) {
		calls++
		return want, nil
	})
	root := testRoot(2)

	c := NewReadThroughChunkDataCache(inner, chunkStore)
	_, err = c.ChunkData(context.Background(), 1000, 7000, root, 100)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	stored, err := chunkStore.Get(root, 100)
	require.NoError(t, err)
	require.DeepEqual(t, want.Chunk, stored)

	// A fresh instance starts with a cold hot layer and must find the
	// chunk on disk without consulting the source.
	reopened, err := store.NewChunkStore(dir)
	require.NoError(t, err)
	c2 := NewReadThroughChunkDataCache(inner, reopened)
	got, err := c2.ChunkData(context.Background(), 1000, 7000, root, 100)
	require.NoError(t, err)
	require.DeepEqual(t, want.Chunk, got.Chunk)
	require.DeepEqual(t, want.Hash, got.Hash)
	require.Equal(t, 1, calls)
}

type failingChunkStore struct{}

func (failingChunkStore) Get(_ []byte, _ uint64) ([]byte, error) {
	return nil, errors.New("disk failure")
}

func (failingChunkStore) Put(_ []byte, _ uint64, _ []byte) error {
	return errors.New("disk failure")
}

func TestChunkCache_StoreFailuresFallThrough(t *testing.T) {
	setupCacheConfig(t)
	hook := logTest.NewGlobal()
	want := testChunkData(9, 64)
	inner := chunkDataSourceFunc(func(_ context.Context, _, _ uint64, _ []byte, _ uint64) (*arweave.ChunkData, error) {
		return want, nil
	})
	c := NewReadThroughChunkDataCache(inner, failingChunkStore{})

	got, err := c.ChunkData(context.Background(), 1000, 9000, testRoot(3), 0)
	require.NoError(t, err)
	require.DeepEqual(t, want.Chunk, got.Chunk)
	require.LogsContain(t, hook, "Could not read chunk store")
	require.LogsContain(t, hook, "Could not persist chunk")
}

func TestChunkCache_MissesAreNotMemoized(t *testing.T) {
	setupCacheConfig(t)
	chunkStore, err := store.NewChunkStore(t.TempDir())
	require.NoError(t, err)
	want := testChunkData(5, 128)
	calls := 0
	inner := chunkDataSourceFunc(func(_ context.Context, _, _ uint64, _ []byte, _ uint64) (*arweave.ChunkData, error) {
		calls++
		if calls == 1 {
			return nil, errors.Wrap(sources.ErrNotFound, "no source has the chunk")
		}
		return want, nil
	})
	c := NewReadThroughChunkDataCache(inner, chunkStore)
	root := testRoot(4)

	_, err = c.ChunkData(context.Background(), 1000, 11000, root, 0)
	require.Equal(t, true, errors.Is(err, sources.ErrNotFound))

	got, err := c.ChunkData(context.Background(), 1000, 11000, root, 0)
	require.NoError(t, err)
	require.DeepEqual(t, want.Chunk, got.Chunk)
	require.Equal(t, 2, calls)
}
