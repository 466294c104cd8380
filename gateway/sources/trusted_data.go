package sources

import (
	"bytes"
	"context"
	"io"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/attributes"
	"github.com/permagate/permagate/gateway/chain"
	"github.com/pkg/errors"
)

// TrustedNodeDataSource serves whole payloads straight from the trusted
// node's tx data endpoint. The node only answers for transactions it
// holds in full and rejects large ones, so this source sits last in the
// sequential chain, behind chunk reassembly.
type TrustedNodeDataSource struct {
	node TxDataFetcher
}

// NewTrustedNodeDataSource creates a data source backed by the trusted
// node's data endpoint.
func NewTrustedNodeDataSource(node TxDataFetcher) *TrustedNodeDataSource {
	return &TrustedNodeDataSource{node: node}
}

// GetData implements ContiguousDataSource. The node endpoint has no
// range support, so region requests download the payload and slice it.
func (s *TrustedNodeDataSource) GetData(ctx context.Context, id arweave.ID, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error) {
	data, err := s.node.TxData(ctx, id)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			dataRequestsTotal.WithLabelValues("trusted_node", "miss").Inc()
			return nil, errors.Wrapf(ErrNotFound, "trusted node has no data for %s", id.String())
		}
		dataRequestsTotal.WithLabelValues("trusted_node", "error").Inc()
		return nil, errors.Wrap(err, "trusted node data request failed")
	}

	size := uint64(len(data))
	if region != nil {
		if region.Offset >= size {
			return nil, errors.Wrapf(ErrRangeUnsatisfiable, "region start %d beyond payload size %d", region.Offset, size)
		}
		end := region.End()
		if end > size {
			end = size
		}
		data = data[region.Offset:end]
		size = uint64(len(data))
	}

	dataRequestsTotal.WithLabelValues("trusted_node", "hit").Inc()
	return &arweave.ContiguousData{
		Stream:            io.NopCloser(bytes.NewReader(data)),
		Size:              size,
		Trusted:           true,
		Verified:          false,
		RequestAttributes: reqAttrs,
	}, nil
}
