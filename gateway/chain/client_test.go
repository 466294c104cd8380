package chain

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/testing/assert"
	"github.com/permagate/permagate/testing/require"
)

func setupClientConfig(t *testing.T, mutate func(cfg *params.GatewayConfig)) {
	params.SetupTestConfigCleanup(t)
	cfg := params.MainnetConfig().Copy()
	cfg.TrustedNodeRequestsPerSecond = 1000
	cfg.TrustedNodeBurstSeconds = 1
	cfg.TrustedNodeRequestQueue = 100
	cfg.TrustedNodeRequestRetries = 3
	cfg.TrustedNodeRequestTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	params.OverrideGatewayConfig(cfg)
}

func testID(t *testing.T) arweave.ID {
	var raw [arweave.IDLength]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	id, err := arweave.IDFromString(arweave.EncodeBase64(raw[:]))
	require.NoError(t, err)
	return id
}

func TestClient_TxOffsetMemoized(t *testing.T) {
	setupClientConfig(t, nil)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `{"offset":"1000","size":"200"}`)
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	id := testID(t)
	for i := 0; i < 3; i++ {
		offset, size, err := c.TxOffset(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), offset)
		assert.Equal(t, uint64(200), size)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "repeated lookups should share one request")
}

func TestClient_TxDataRoot(t *testing.T) {
	setupClientConfig(t, nil)
	root := make([]byte, arweave.HashSize)
	for i := range root {
		root[i] = byte(0xa0 + i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, base64.RawURLEncoding.EncodeToString(root))
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	got, err := c.TxDataRoot(context.Background(), testID(t))
	require.NoError(t, err)
	assert.DeepEqual(t, root, got)
}

func TestClient_TxData(t *testing.T) {
	setupClientConfig(t, nil)
	payload := []byte("full payload straight from the node")
	id := testID(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tx/"+id.String()+"/data", r.URL.Path)
		fmt.Fprint(w, base64.RawURLEncoding.EncodeToString(payload))
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	got, err := c.TxData(context.Background(), id)
	require.NoError(t, err)
	assert.DeepEqual(t, payload, got)
}

func TestClient_RejectedRequestDoesNotRetry(t *testing.T) {
	setupClientConfig(t, nil)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = c.TxData(context.Background(), testID(t))
	require.Equal(t, ErrNotFound, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "rejected requests should not be retried")
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	setupClientConfig(t, nil)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `["10.0.0.1:1984","10.0.0.2:1984"]`)
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	peers, err := c.Peers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, int(atomic.LoadInt32(&hits)))
	assert.DeepEqual(t, []string{"10.0.0.1:1984", "10.0.0.2:1984"}, peers)
}

func TestClient_NotFoundDoesNotRetry(t *testing.T) {
	setupClientConfig(t, nil)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	_, _, err = c.TxOffset(context.Background(), testID(t))
	require.Equal(t, ErrNotFound, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "missing objects should not be retried")
}

func TestClient_ExhaustsRetries(t *testing.T) {
	setupClientConfig(t, nil)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = c.Info(context.Background())
	require.ErrorContains(t, "failed after 3 attempts", err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClient_RateLimiterThrottles(t *testing.T) {
	setupClientConfig(t, func(cfg *params.GatewayConfig) {
		// Capacity 1, so every request past the first waits for drain.
		cfg.TrustedNodeRequestsPerSecond = 64
		cfg.TrustedNodeBurstSeconds = 0
	})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `{"network":"arweave.N.1","height":1000}`)
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	const requests = 12
	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Info(context.Background())
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for i, err := range errs {
		require.NoError(t, err, fmt.Sprintf("request %d", i))
	}
	assert.Equal(t, int32(requests), atomic.LoadInt32(&hits))
	if elapsed < 100*time.Millisecond {
		t.Errorf("expected rate limiter to slow %d requests, finished in %v", requests, elapsed)
	}
}

func TestClient_QueueBoundsConcurrency(t *testing.T) {
	setupClientConfig(t, func(cfg *params.GatewayConfig) {
		cfg.TrustedNodeRequestQueue = 2
	})
	var inFlight, maxInFlight int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		fmt.Fprint(w, `["peer:1984"]`)
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Peers(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&maxInFlight); got > 2 {
		t.Errorf("wanted at most 2 concurrent requests, saw %d", got)
	}
}

func TestClient_ContextCancelledWhileWaiting(t *testing.T) {
	setupClientConfig(t, func(cfg *params.GatewayConfig) {
		cfg.TrustedNodeRequestsPerSecond = 1
		cfg.TrustedNodeBurstSeconds = 1
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["peer:1984"]`)
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	// Drain the single credit, then cancel while the next call waits.
	_, err = c.Peers(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Peers(ctx)
	require.Equal(t, context.DeadlineExceeded, err)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancellation should interrupt the limiter wait, took %v", elapsed)
	}
}

func TestClient_ThrottledResponseDebitsBucket(t *testing.T) {
	setupClientConfig(t, func(cfg *params.GatewayConfig) {
		// Slow drain so consumed credit stays visible during the test.
		cfg.TrustedNodeRequestsPerSecond = 2
		cfg.TrustedNodeBurstSeconds = 500
		cfg.TrustedNodeRequestRetries = 2
	})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `["peer:1984"]`)
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	before := c.limiter.Remaining(c.host)
	peers, err := c.Peers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, int(atomic.LoadInt32(&hits)))
	assert.DeepEqual(t, []string{"peer:1984"}, peers)
	// Two request credits plus the 429 penalty were consumed.
	if after := c.limiter.Remaining(c.host); before-after < 3 {
		t.Errorf("expected the throttled response to debit extra credit, remaining went %d -> %d", before, after)
	}
}

func TestClient_ChunkRequestsOffsetPath(t *testing.T) {
	setupClientConfig(t, nil)
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"chunk":"AAAA","data_path":"AAAA","tx_path":"AAAA"}`)
	}))
	defer srv.Close()
	c, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)

	doc, err := c.Chunk(context.Background(), 123456789)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "/chunk/123456789", gotPath)
	assert.Equal(t, "AAAA", doc.Chunk)
}

func TestClient_RejectsBadURL(t *testing.T) {
	setupClientConfig(t, nil)
	_, err := NewClient(&Config{URL: "://not-a-url"})
	require.ErrorContains(t, "could not parse trusted node url", err)
}

func TestHostClient_Endpoints(t *testing.T) {
	setupClientConfig(t, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"network":"arweave.N.1","height":1234,"blocks":1234}`)
	})
	mux.HandleFunc("/sync_buckets", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte{131, 104, 2}); err != nil {
			t.Error(err)
		}
	})
	mux.HandleFunc("/chunk/777", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"chunk":"BBBB","data_path":"AAAA","tx_path":"AAAA"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	h := NewHostClient(nil)

	info, err := h.Info(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), info.Height)

	raw, err := h.SyncBuckets(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.DeepEqual(t, []byte{131, 104, 2}, raw)

	doc, err := h.GetChunk(context.Background(), srv.URL, 777)
	require.NoError(t, err)
	assert.Equal(t, "BBBB", doc.Chunk)

	_, err = h.GetChunk(context.Background(), srv.URL, 778)
	require.Equal(t, ErrNotFound, err)
}
