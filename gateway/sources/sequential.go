package sources

import (
	"context"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/attributes"
	"github.com/pkg/errors"
)

// SequentialDataSource tries each child in order until one produces
// the data. A child's miss falls through to the next; blocked,
// permanent, cancellation and range errors short-circuit because no
// sibling can answer them differently.
type SequentialDataSource struct {
	children []ContiguousDataSource
}

// NewSequentialDataSource chains data sources in priority order.
func NewSequentialDataSource(children ...ContiguousDataSource) *SequentialDataSource {
	return &SequentialDataSource{children: children}
}

// GetData implements ContiguousDataSource.
func (s *SequentialDataSource) GetData(ctx context.Context, id arweave.ID, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error) {
	for _, child := range s.children {
		data, err := child.GetData(ctx, id, reqAttrs, region)
		if err == nil {
			dataRequestsTotal.WithLabelValues("sequential", "hit").Inc()
			return data, nil
		}
		if IsPermanent(err) || IsCancelled(err) || errors.Is(err, ErrRangeUnsatisfiable) {
			dataRequestsTotal.WithLabelValues("sequential", "aborted").Inc()
			return nil, err
		}
		log.WithError(err).WithField("id", id.String()).Debug("Data source missed, trying next")
	}
	dataRequestsTotal.WithLabelValues("sequential", "miss").Inc()
	return nil, errors.Wrapf(ErrNotFound, "no source produced %s", id.String())
}
