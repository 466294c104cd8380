package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/attributes"
	"github.com/permagate/permagate/runtime/version"
	"github.com/pkg/errors"
)

// GatewayDataSource fetches payloads from a trusted upstream gateway's
// raw endpoint, forwarding the request attribute headers with hops
// incremented and this gateway appended to the via trail. The upstream
// body is passed through untouched: verified=false, trusted=true.
type GatewayDataSource struct {
	baseURL    string
	upstreamID string
	selfID     string
	client     *http.Client
}

// NewGatewayDataSource creates an upstream gateway source. selfID is
// this gateway's own identifier for loop detection and via entries.
func NewGatewayDataSource(baseURL, selfID string, client *http.Client) (*GatewayDataSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse upstream gateway url")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GatewayDataSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		upstreamID: strings.ToLower(u.Hostname()),
		selfID:     selfID,
		client:     client,
	}, nil
}

// GetData implements ContiguousDataSource.
func (g *GatewayDataSource) GetData(ctx context.Context, id arweave.ID, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error) {
	if reqAttrs == nil {
		reqAttrs = &attributes.RequestAttributes{}
	}
	// Skip an upstream that already forwarded this request once.
	if reqAttrs.ViaContains(g.upstreamID) {
		dataRequestsTotal.WithLabelValues("gateway", "loop_skipped").Inc()
		return nil, errors.Wrapf(ErrNotFound, "upstream %s already in via trail", g.upstreamID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/raw/"+id.String(), nil)
	if err != nil {
		return nil, err
	}
	outAttrs := reqAttrs.Forward(g.selfID, version.Release())
	outAttrs.SetRequestHeaders(req.Header)
	if region != nil {
		if region.Size == 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", region.Offset, region.Offset))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", region.Offset, region.End()-1))
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		dataRequestsTotal.WithLabelValues("gateway", "error").Inc()
		return nil, errors.Wrap(err, "upstream gateway request failed")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusNotFound:
		closeBody(resp)
		dataRequestsTotal.WithLabelValues("gateway", "miss").Inc()
		return nil, errors.Wrapf(ErrNotFound, "upstream gateway has no %s", id.String())
	case http.StatusRequestedRangeNotSatisfiable:
		closeBody(resp)
		return nil, ErrRangeUnsatisfiable
	default:
		status := resp.StatusCode
		closeBody(resp)
		dataRequestsTotal.WithLabelValues("gateway", "error").Inc()
		return nil, errors.Errorf("upstream gateway returned status %d", status)
	}

	size := uint64(0)
	if resp.ContentLength >= 0 {
		size = uint64(resp.ContentLength)
	} else if region != nil {
		size = region.Size
	}
	dataRequestsTotal.WithLabelValues("gateway", "hit").Inc()
	return &arweave.ContiguousData{
		Stream:            resp.Body,
		Size:              size,
		SourceContentType: resp.Header.Get("Content-Type"),
		Cached:            strings.EqualFold(resp.Header.Get("X-Cache"), "HIT"),
		Trusted:           true,
		Verified:          false,
		RequestAttributes: outAttrs,
	}, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		log.WithError(err).Debug("Could not close response body")
	}
}
