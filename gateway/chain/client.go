// Package chain implements the HTTP client for the operator's trusted
// Arweave node. All requests pass through a shared leaky bucket rate
// limiter and a bounded queue so that a busy gateway cannot overwhelm
// the node, and transaction lookups are deduplicated and memoized for
// a short interval.
package chain

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kevinms/leakybucket-go"
	"github.com/patrickmn/go-cache"
	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	maxSmallBody  = 1 << 20
	maxChunkBody  = 2 << 20
	maxTxDataBody = 32 << 20
)

// ErrNotFound signals that the trusted node does not know the
// requested object.
var ErrNotFound = errors.New("not found on trusted node")

// Config options for the trusted node client.
type Config struct {
	URL        string
	HTTPClient *http.Client
}

// Client talks to the trusted Arweave node.
type Client struct {
	baseURL string
	host    string
	client  *http.Client
	limiter *leakybucket.Collector
	queue   chan struct{}
	memo    *cache.Cache
	group   singleflight.Group
}

// NewClient creates a trusted node client. The rate limiter is sized
// from the gateway config: a sustained request rate with burst credit
// for several minutes of idle time.
func NewClient(cfg *Config) (*Client, error) {
	cfgParams := params.Gateway()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse trusted node url")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	rate := cfgParams.TrustedNodeRequestsPerSecond
	capacity := int64(rate) * cfgParams.TrustedNodeBurstSeconds
	if capacity < 1 {
		capacity = 1
	}
	return &Client{
		baseURL: cfg.URL,
		host:    u.Host,
		client:  client,
		limiter: leakybucket.NewCollector(rate, capacity, false /* deleteEmptyBuckets */),
		queue:   make(chan struct{}, cfgParams.TrustedNodeRequestQueue),
		memo:    cache.New(cfgParams.TxOffsetTTL, 2*cfgParams.TxOffsetTTL),
	}, nil
}

// TxOffset returns the transaction's absolute end offset on the weave
// and its payload size. Results are memoized for a short interval and
// concurrent lookups of the same transaction share one request.
func (c *Client) TxOffset(ctx context.Context, id arweave.ID) (offset, size uint64, err error) {
	type entry struct {
		offset uint64
		size   uint64
	}
	key := "offset:" + id.String()
	if v, ok := c.memo.Get(key); ok {
		e := v.(entry)
		return e.offset, e.size, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.memo.Get(key); ok {
			return v.(entry), nil
		}
		doc := &arweave.TxOffset{}
		if err := c.getJSON(ctx, "/tx/"+id.String()+"/offset", maxSmallBody, doc); err != nil {
			return entry{}, err
		}
		off, sz, err := doc.Parse()
		if err != nil {
			return entry{}, err
		}
		e := entry{offset: off, size: sz}
		c.memo.Set(key, e, cache.DefaultExpiration)
		return e, nil
	})
	if err != nil {
		return 0, 0, err
	}
	e := v.(entry)
	return e.offset, e.size, nil
}

// TxDataRoot returns the transaction's chunk tree root.
func (c *Client) TxDataRoot(ctx context.Context, id arweave.ID) ([]byte, error) {
	key := "data_root:" + id.String()
	if v, ok := c.memo.Get(key); ok {
		return v.([]byte), nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.memo.Get(key); ok {
			return v.([]byte), nil
		}
		body, err := c.getBody(ctx, "/tx/"+id.String()+"/data_root", maxSmallBody)
		if err != nil {
			return nil, err
		}
		root, err := arweave.DecodeBase64(string(body))
		if err != nil {
			return nil, errors.Wrap(err, "could not decode data root")
		}
		if len(root) != arweave.HashSize {
			return nil, errors.Errorf("invalid data root length: %d", len(root))
		}
		c.memo.Set(key, root, cache.DefaultExpiration)
		return root, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// TxData fetches the transaction's whole payload from the node's data
// endpoint. The node serves it base64url encoded and only for
// transactions it holds in full; larger ones are rejected and surface
// as ErrNotFound.
func (c *Client) TxData(ctx context.Context, id arweave.ID) ([]byte, error) {
	body, err := c.getBody(ctx, "/tx/"+id.String()+"/data", maxTxDataBody)
	if err != nil {
		return nil, err
	}
	data, err := arweave.DecodeBase64(string(body))
	if err != nil {
		return nil, errors.Wrap(err, "could not decode tx data")
	}
	return data, nil
}

// Chunk fetches the chunk document covering an absolute weave offset.
func (c *Client) Chunk(ctx context.Context, absoluteOffset uint64) (*arweave.JSONChunk, error) {
	doc := &arweave.JSONChunk{}
	path := "/chunk/" + strconv.FormatUint(absoluteOffset, 10)
	if err := c.getJSON(ctx, path, maxChunkBody, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Peers lists the node's peers as host:port entries.
func (c *Client) Peers(ctx context.Context) ([]string, error) {
	var peers []string
	if err := c.getJSON(ctx, "/peers", maxSmallBody, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// Info fetches the node summary document.
func (c *Client) Info(ctx context.Context) (*arweave.NodeInfo, error) {
	info := &arweave.NodeInfo{}
	if err := c.getJSON(ctx, "/info", maxSmallBody, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) getJSON(ctx context.Context, path string, limit int64, out interface{}) error {
	body, err := c.getBody(ctx, path, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "could not decode %s response", path)
	}
	return nil
}

// getBody performs a rate limited GET with retries. A 404 is terminal.
// A 429 debits the rate bucket exponentially per attempt so that a
// throttling node sees the request rate fall off quickly.
func (c *Client) getBody(ctx context.Context, path string, limit int64) ([]byte, error) {
	cfg := params.Gateway()
	select {
	case c.queue <- struct{}{}:
		defer func() { <-c.queue }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.TrustedNodeRequestRetries; attempt++ {
		if err := c.waitForCredit(ctx); err != nil {
			return nil, err
		}
		body, status, err := c.doOnce(ctx, path, limit)
		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusOK:
			requestsTotal.WithLabelValues("ok").Inc()
			return body, nil
		case status == http.StatusNotFound:
			requestsTotal.WithLabelValues("not_found").Inc()
			return nil, ErrNotFound
		case status == http.StatusBadRequest:
			// The node refuses the request itself, retrying cannot
			// help. The data endpoint answers 400 for payloads too
			// large to serve whole.
			requestsTotal.WithLabelValues("rejected").Inc()
			return nil, ErrNotFound
		case status == http.StatusTooManyRequests:
			throttledTotal.Inc()
			c.limiter.Add(c.host, 1<<uint(attempt))
			lastErr = errors.Errorf("throttled with status %d", status)
		default:
			lastErr = errors.Errorf("unexpected status %d", status)
		}
		log.WithError(lastErr).WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt,
		}).Debug("Trusted node request failed")
	}
	requestsTotal.WithLabelValues("error").Inc()
	return nil, errors.Wrapf(lastErr, "trusted node request failed after %d attempts", cfg.TrustedNodeRequestRetries)
}

func (c *Client) doOnce(ctx context.Context, path string, limit int64) ([]byte, int, error) {
	cfg := params.Gateway()
	reqCtx, cancel := context.WithTimeout(ctx, cfg.TrustedNodeRequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	body, err := ioutil.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// waitForCredit blocks until the rate bucket accepts one more request,
// honoring cancellation while it sleeps. Add reports zero when the
// credit does not fit, so a failed add means another waiter won the
// race and this one sleeps again.
func (c *Client) waitForCredit(ctx context.Context) error {
	for {
		if c.limiter.Add(c.host, 1) > 0 {
			return nil
		}
		wait := c.limiter.TillEmpty(c.host)
		if wait <= 0 {
			wait = time.Millisecond
		}
		limiterWaits.Inc()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
