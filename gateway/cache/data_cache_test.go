package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"testing"
	"time"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/blocklist"
	"github.com/permagate/permagate/gateway/breaker"
	"github.com/permagate/permagate/gateway/sources"
	"github.com/permagate/permagate/gateway/store"
	"github.com/permagate/permagate/testing/require"
	"github.com/pkg/errors"
	logTest "github.com/sirupsen/logrus/hooks/test"
)

func TestDataCache_MissThenHit(t *testing.T) {
	setupCacheConfig(t)
	dataStore, idx := newTestStores(t)
	payload := testPayload(1000)
	inner := &countingSource{payload: payload, verified: true}
	c := NewReadThroughDataCache(inner, dataStore, idx, nil, nil)
	id := testID(1)

	first, err := c.GetData(context.Background(), id, nil, nil)
	require.NoError(t, err)
	require.Equal(t, false, first.Cached)
	require.DeepEqual(t, payload, drain(t, first))

	digest := sha256.Sum256(payload)
	attrs, err := idx.DataAttributes(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, attrs)
	require.DeepEqual(t, digest[:], attrs.Hash)
	require.Equal(t, uint64(len(payload)), attrs.Size)
	require.Equal(t, true, attrs.Verified)
	require.Equal(t, true, dataStore.Has(digest[:]))

	second, err := c.GetData(context.Background(), id, nil, nil)
	require.NoError(t, err)
	require.Equal(t, true, second.Cached)
	require.Equal(t, false, second.Verified)
	require.Equal(t, uint64(len(payload)), second.Size)
	require.DeepEqual(t, payload, drain(t, second))
	require.Equal(t, 1, inner.calls)
}

func TestDataCache_HashMismatchDiscards(t *testing.T) {
	setupCacheConfig(t)
	hook := logTest.NewGlobal()
	dataStore, idx := newTestStores(t)
	payload := testPayload(500)
	id := testID(2)
	wrong := bytes.Repeat([]byte{0xab}, arweave.HashSize)
	require.NoError(t, idx.SaveDataAttributes(context.Background(), id, &arweave.DataAttributes{
		Hash: wrong,
		Size: uint64(len(payload)),
	}))
	inner := &countingSource{payload: payload}
	c := NewReadThroughDataCache(inner, dataStore, idx, nil, nil)

	// The response must stream through untouched even though the staged
	// copy is thrown away.
	data, err := c.GetData(context.Background(), id, nil, nil)
	require.NoError(t, err)
	require.DeepEqual(t, payload, drain(t, data))
	require.LogsContain(t, hook, "does not match its recorded hash")

	digest := sha256.Sum256(payload)
	require.Equal(t, false, dataStore.Has(wrong))
	require.Equal(t, false, dataStore.Has(digest[:]))
}

type failingDataStore struct{}

func (failingDataStore) Get(_ []byte) (io.ReadCloser, uint64, error) {
	return nil, 0, store.ErrNotFound
}

func (failingDataStore) GetRegion(_ []byte, _ *arweave.Region) (io.ReadCloser, error) {
	return nil, store.ErrNotFound
}

func (failingDataStore) Writer() (*store.DataWriter, error) {
	return nil, errors.New("no space left on device")
}

func TestDataCache_StoreFailureDoesNotAbort(t *testing.T) {
	setupCacheConfig(t)
	hook := logTest.NewGlobal()
	_, idx := newTestStores(t)
	payload := testPayload(400)
	inner := &countingSource{payload: payload}
	c := NewReadThroughDataCache(inner, failingDataStore{}, idx, nil, nil)

	data, err := c.GetData(context.Background(), testID(3), nil, nil)
	require.NoError(t, err)
	require.DeepEqual(t, payload, drain(t, data))
	require.LogsContain(t, hook, "Could not stage data for caching")
}

func TestDataCache_RegionOnCachedPayload(t *testing.T) {
	setupCacheConfig(t)
	dataStore, idx := newTestStores(t)
	payload := testPayload(1000)
	inner := &countingSource{payload: payload, verified: true}
	c := NewReadThroughDataCache(inner, dataStore, idx, nil, nil)
	id := testID(4)

	full, err := c.GetData(context.Background(), id, nil, nil)
	require.NoError(t, err)
	require.DeepEqual(t, payload, drain(t, full))
	require.Equal(t, 1, inner.calls)

	mid, err := c.GetData(context.Background(), id, nil, &arweave.Region{Offset: 100, Size: 50})
	require.NoError(t, err)
	require.Equal(t, true, mid.Cached)
	require.Equal(t, uint64(50), mid.Size)
	require.DeepEqual(t, payload[100:150], drain(t, mid))

	// Overlong regions clamp to the payload end.
	tail, err := c.GetData(context.Background(), id, nil, &arweave.Region{Offset: 900, Size: 500})
	require.NoError(t, err)
	require.Equal(t, uint64(100), tail.Size)
	require.DeepEqual(t, payload[900:], drain(t, tail))

	// A range starting past the end fails without consulting the source.
	_, err = c.GetData(context.Background(), id, nil, &arweave.Region{Offset: 1000, Size: 10})
	require.Equal(t, true, errors.Is(err, sources.ErrRangeUnsatisfiable))
	require.Equal(t, 1, inner.calls)
}

func TestDataCache_RegionMissIsNotStaged(t *testing.T) {
	setupCacheConfig(t)
	dataStore, idx := newTestStores(t)
	payload := testPayload(600)
	inner := &countingSource{payload: payload}
	c := NewReadThroughDataCache(inner, dataStore, idx, nil, nil)
	id := testID(5)

	data, err := c.GetData(context.Background(), id, nil, &arweave.Region{Offset: 200, Size: 100})
	require.NoError(t, err)
	require.Equal(t, false, data.Cached)
	require.DeepEqual(t, payload[200:300], drain(t, data))
	require.NotNil(t, inner.lastRegion)

	digest := sha256.Sum256(payload)
	require.Equal(t, false, dataStore.Has(digest[:]))
	attrs, err := idx.DataAttributes(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, true, attrs == nil)
}

type failingIndex struct {
	lookups int
}

func (f *failingIndex) DataAttributes(_ context.Context, _ arweave.ID) (*arweave.DataAttributes, error) {
	f.lookups++
	return nil, errors.New("attribute index is down")
}

func (f *failingIndex) SaveDataAttributes(_ context.Context, _ arweave.ID, _ *arweave.DataAttributes) error {
	return errors.New("attribute index is down")
}

func TestDataCache_BreakerOpenIsAMiss(t *testing.T) {
	setupCacheConfig(t)
	dataStore, err := store.NewDataStore(t.TempDir())
	require.NoError(t, err)
	payload := testPayload(300)
	inner := &countingSource{payload: payload}
	idx := &failingIndex{}
	brk := breaker.New(breaker.Config{Name: "test-attributes", MinRequests: 1, ResetAfter: time.Hour})
	c := NewReadThroughDataCache(inner, dataStore, idx, brk, nil)

	first, err := c.GetData(context.Background(), testID(6), nil, nil)
	require.NoError(t, err)
	require.DeepEqual(t, payload, drain(t, first))
	require.Equal(t, "open", brk.State())

	second, err := c.GetData(context.Background(), testID(6), nil, nil)
	require.NoError(t, err)
	require.DeepEqual(t, payload, drain(t, second))
	require.Equal(t, 1, idx.lookups)
	require.Equal(t, 2, inner.calls)
}

func TestDataCache_BlockedHashNeverServed(t *testing.T) {
	setupCacheConfig(t)
	dataStore, idx := newTestStores(t)
	payload := testPayload(256)
	digest := sha256.Sum256(payload)
	id := testID(7)
	// Warm the cache, then block the payload's hash.
	inner := &countingSource{payload: payload}
	warm := NewReadThroughDataCache(inner, dataStore, idx, nil, nil)
	data, err := warm.GetData(context.Background(), id, nil, nil)
	require.NoError(t, err)
	drain(t, data)
	require.Equal(t, true, dataStore.Has(digest[:]))

	blocked := blocklist.NewStatic(nil, [][]byte{digest[:]})
	c := NewReadThroughDataCache(inner, dataStore, idx, nil, blocked)
	_, err = c.GetData(context.Background(), id, nil, nil)
	require.Equal(t, true, errors.Is(err, sources.ErrBlocked))
	require.Equal(t, true, sources.IsPermanent(err))
	require.Equal(t, 1, inner.calls)
}

func TestDataCache_BlockedHashIsNotCommitted(t *testing.T) {
	setupCacheConfig(t)
	hook := logTest.NewGlobal()
	dataStore, idx := newTestStores(t)
	payload := testPayload(256)
	digest := sha256.Sum256(payload)
	blocked := blocklist.NewStatic(nil, [][]byte{digest[:]})
	inner := &countingSource{payload: payload}
	c := NewReadThroughDataCache(inner, dataStore, idx, nil, blocked)
	id := testID(8)

	// The hash is only known once the stream has drained, so the bytes
	// still reach the client; only the cache write is suppressed.
	data, err := c.GetData(context.Background(), id, nil, nil)
	require.NoError(t, err)
	require.DeepEqual(t, payload, drain(t, data))
	require.LogsContain(t, hook, "hash is blocked, discarding")
	require.Equal(t, false, dataStore.Has(digest[:]))
	attrs, err := idx.DataAttributes(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, true, attrs == nil)
}

func TestDataCache_EarlyCloseDiscards(t *testing.T) {
	setupCacheConfig(t)
	dataStore, idx := newTestStores(t)
	payload := testPayload(1000)
	inner := &countingSource{payload: payload}
	c := NewReadThroughDataCache(inner, dataStore, idx, nil, nil)
	id := testID(9)

	data, err := c.GetData(context.Background(), id, nil, nil)
	require.NoError(t, err)
	buf := make([]byte, 100)
	_, err = io.ReadFull(data.Stream, buf)
	require.NoError(t, err)
	require.NoError(t, data.Stream.Close())

	digest := sha256.Sum256(payload)
	require.Equal(t, false, dataStore.Has(digest[:]))

	// The next request misses again and caches the full payload.
	again, err := c.GetData(context.Background(), id, nil, nil)
	require.NoError(t, err)
	require.DeepEqual(t, payload, drain(t, again))
	require.Equal(t, true, dataStore.Has(digest[:]))
	require.Equal(t, 2, inner.calls)
}
