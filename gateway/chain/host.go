package chain

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
)

const maxBucketsBody = 8 << 20

// HostClient performs direct requests against arbitrary peer hosts.
// Unlike the trusted node client it applies no rate limiting or
// retries; callers bound each call with a context deadline.
type HostClient struct {
	client *http.Client
}

// NewHostClient creates a peer host client.
func NewHostClient(client *http.Client) *HostClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HostClient{client: client}
}

// Info fetches the host's node summary document.
func (h *HostClient) Info(ctx context.Context, host string) (*arweave.NodeInfo, error) {
	body, err := h.get(ctx, host, "/info", maxSmallBody)
	if err != nil {
		return nil, err
	}
	info := &arweave.NodeInfo{}
	if err := json.Unmarshal(body, info); err != nil {
		return nil, errors.Wrap(err, "could not decode node info")
	}
	return info, nil
}

// SyncBuckets fetches the host's sync bucket document as raw external
// term format bytes.
func (h *HostClient) SyncBuckets(ctx context.Context, host string) ([]byte, error) {
	return h.get(ctx, host, "/sync_buckets", maxBucketsBody)
}

// GetChunk fetches the chunk document covering an absolute weave
// offset from one host. A 404 maps to ErrNotFound so callers can move
// on to the next peer without inspecting the error text.
func (h *HostClient) GetChunk(ctx context.Context, host string, absoluteOffset uint64) (*arweave.JSONChunk, error) {
	body, err := h.get(ctx, host, "/chunk/"+strconv.FormatUint(absoluteOffset, 10), maxChunkBody)
	if err != nil {
		return nil, err
	}
	doc := &arweave.JSONChunk{}
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, errors.Wrap(err, "could not decode chunk response")
	}
	return doc, nil
}

func (h *HostClient) get(ctx context.Context, host, path string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := ioutil.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, err
	}
	return body, nil
}
