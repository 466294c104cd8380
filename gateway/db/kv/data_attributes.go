package kv

import (
	"context"
	"encoding/json"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// DataAttributes retrieves the stored attributes for a transaction or
// data item, or nil when none are recorded.
func (s *Store) DataAttributes(ctx context.Context, id arweave.ID) (*arweave.DataAttributes, error) {
	ctx, span := trace.StartSpan(ctx, "GatewayDB.DataAttributes")
	defer span.End()
	var attrs *arweave.DataAttributes
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(dataAttributesBucket).Get(id.Bytes())
		if enc == nil {
			return nil
		}
		attrs = &arweave.DataAttributes{}
		return json.Unmarshal(enc, attrs)
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not decode data attributes")
	}
	return attrs, nil
}

// SaveDataAttributes persists the attributes for a transaction or data
// item, overwriting any previous record.
func (s *Store) SaveDataAttributes(ctx context.Context, id arweave.ID, attrs *arweave.DataAttributes) error {
	ctx, span := trace.StartSpan(ctx, "GatewayDB.SaveDataAttributes")
	defer span.End()
	enc, err := json.Marshal(attrs)
	if err != nil {
		return errors.Wrap(err, "could not encode data attributes")
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataAttributesBucket).Put(id.Bytes(), enc)
	})
}
