package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/chain"
	"github.com/permagate/permagate/testing/assert"
	"github.com/permagate/permagate/testing/require"
	"github.com/pkg/errors"
)

// trustedChunkServer serves the fixture's chunks over the trusted node
// chunk endpoint so the full client path is exercised.
func trustedChunkServer(t *testing.T, tx *weaveTx) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		absolute, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/chunk/"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if absolute < tx.start || absolute >= tx.start+tx.size() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		i := tx.chunkIndex(absolute - tx.start)
		if i < 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.NoError(t, json.NewEncoder(w).Encode(tx.wireChunk(i)))
	}))
}

func TestTrustedNodeChunkSource_FetchesAndValidates(t *testing.T) {
	setupSourcesConfig(t)
	tx := newWeaveTx(1000, 50_000)
	srv := trustedChunkServer(t, tx)
	defer srv.Close()

	client, err := chain.NewClient(&chain.Config{URL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	src := NewTrustedNodeChunkSource(client)

	chunk, err := src.Chunk(context.Background(), tx.size(), tx.start+250, tx.tc.DataRoot, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), chunk.Offset)
	assert.Equal(t, uint64(100), chunk.ChunkSize)
	assert.Equal(t, tx.start+200, chunk.AbsoluteOffset)
	assert.DeepEqual(t, tx.data[200:300], chunk.Chunk)

	meta, err := src.ChunkMetadata(context.Background(), tx.size(), tx.start+250, tx.tc.DataRoot, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), meta.Offset)

	data, err := src.ChunkData(context.Background(), tx.size(), tx.start+250, tx.tc.DataRoot, 250)
	require.NoError(t, err)
	assert.DeepEqual(t, tx.data[200:300], data.Chunk)
}

func TestTrustedNodeChunkSource_MissingChunkIsNotFound(t *testing.T) {
	setupSourcesConfig(t)
	tx := newWeaveTx(1000, 50_000)
	srv := trustedChunkServer(t, tx)
	defer srv.Close()

	client, err := chain.NewClient(&chain.Config{URL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	src := NewTrustedNodeChunkSource(client)

	_, err = src.Chunk(context.Background(), tx.size(), tx.start+tx.size()+100, tx.tc.DataRoot, 0)
	require.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestTrustedNodeChunkSource_RejectsWrongDataRoot(t *testing.T) {
	setupSourcesConfig(t)
	tx := newWeaveTx(1000, 50_000)
	srv := trustedChunkServer(t, tx)
	defer srv.Close()

	client, err := chain.NewClient(&chain.Config{URL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	src := NewTrustedNodeChunkSource(client)

	wrongRoot := make([]byte, arweave.HashSize)
	_, err = src.Chunk(context.Background(), tx.size(), tx.start+250, wrongRoot, 250)
	require.ErrorContains(t, "could not validate trusted node chunk", err)
}
