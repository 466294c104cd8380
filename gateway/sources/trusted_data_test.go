package sources

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/chain"
	"github.com/permagate/permagate/testing/assert"
	"github.com/permagate/permagate/testing/require"
	"github.com/pkg/errors"
)

// trustedDataServer serves one payload over the trusted node tx data
// endpoint, base64url encoded like the node does.
func trustedDataServer(t *testing.T, id arweave.ID, payload []byte, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tx/"+id.String()+"/data" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, err := w.Write([]byte(arweave.EncodeBase64(payload)))
		assert.NoError(t, err)
	}))
}

func newTrustedDataSource(t *testing.T, srv *httptest.Server) *TrustedNodeDataSource {
	client, err := chain.NewClient(&chain.Config{URL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return NewTrustedNodeDataSource(client)
}

func TestTrustedNodeDataSource_FullPayload(t *testing.T) {
	setupSourcesConfig(t)
	id := testTxID(0x31)
	payload := []byte("weave payload served in full")
	srv := trustedDataServer(t, id, payload, http.StatusOK)
	defer srv.Close()

	src := newTrustedDataSource(t, srv)
	data, err := src.GetData(context.Background(), id, nil, nil)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, data.Stream.Close())
	}()

	got, err := ioutil.ReadAll(data.Stream)
	require.NoError(t, err)
	assert.DeepEqual(t, payload, got)
	assert.Equal(t, uint64(len(payload)), data.Size)
	assert.Equal(t, true, data.Trusted)
	assert.Equal(t, false, data.Verified)
	assert.Equal(t, false, data.Cached)
}

func TestTrustedNodeDataSource_RegionSliced(t *testing.T) {
	setupSourcesConfig(t)
	id := testTxID(0x32)
	payload := []byte("0123456789abcdef")
	srv := trustedDataServer(t, id, payload, http.StatusOK)
	defer srv.Close()

	src := newTrustedDataSource(t, srv)
	data, err := src.GetData(context.Background(), id, nil, &arweave.Region{Offset: 4, Size: 6})
	require.NoError(t, err)
	got, err := ioutil.ReadAll(data.Stream)
	require.NoError(t, err)
	assert.DeepEqual(t, payload[4:10], got)
	assert.Equal(t, uint64(6), data.Size)
}

func TestTrustedNodeDataSource_RegionClampedToSize(t *testing.T) {
	setupSourcesConfig(t)
	id := testTxID(0x33)
	payload := []byte("0123456789")
	srv := trustedDataServer(t, id, payload, http.StatusOK)
	defer srv.Close()

	src := newTrustedDataSource(t, srv)
	data, err := src.GetData(context.Background(), id, nil, &arweave.Region{Offset: 8, Size: 100})
	require.NoError(t, err)
	got, err := ioutil.ReadAll(data.Stream)
	require.NoError(t, err)
	assert.DeepEqual(t, payload[8:], got)
	assert.Equal(t, uint64(2), data.Size)
}

func TestTrustedNodeDataSource_RegionBeyondSize(t *testing.T) {
	setupSourcesConfig(t)
	id := testTxID(0x34)
	srv := trustedDataServer(t, id, []byte("short"), http.StatusOK)
	defer srv.Close()

	src := newTrustedDataSource(t, srv)
	_, err := src.GetData(context.Background(), id, nil, &arweave.Region{Offset: 5, Size: 1})
	require.Equal(t, true, errors.Is(err, ErrRangeUnsatisfiable))
}

func TestTrustedNodeDataSource_MissingIsNotFound(t *testing.T) {
	setupSourcesConfig(t)
	id := testTxID(0x35)
	srv := trustedDataServer(t, id, nil, http.StatusNotFound)
	defer srv.Close()

	src := newTrustedDataSource(t, srv)
	_, err := src.GetData(context.Background(), id, nil, nil)
	require.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestTrustedNodeDataSource_TooBigIsNotFound(t *testing.T) {
	setupSourcesConfig(t)
	id := testTxID(0x36)
	srv := trustedDataServer(t, id, nil, http.StatusBadRequest)
	defer srv.Close()

	src := newTrustedDataSource(t, srv)
	_, err := src.GetData(context.Background(), id, nil, nil)
	require.Equal(t, true, errors.Is(err, ErrNotFound))
}
