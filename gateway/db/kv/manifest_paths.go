package kv

import (
	"context"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

func manifestPathKey(manifestID arweave.ID, path string) []byte {
	key := make([]byte, 0, arweave.IDLength+len(path))
	key = append(key, manifestID.Bytes()...)
	return append(key, path...)
}

// ManifestPath resolves one path inside a manifest from the index, or
// nil when the path has not been indexed.
func (s *Store) ManifestPath(ctx context.Context, manifestID arweave.ID, path string) (*arweave.ID, error) {
	ctx, span := trace.StartSpan(ctx, "GatewayDB.ManifestPath")
	defer span.End()
	var target *arweave.ID
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(manifestPathsBucket).Get(manifestPathKey(manifestID, path))
		if enc == nil {
			return nil
		}
		if len(enc) != arweave.IDLength {
			return errors.Errorf("invalid manifest path target length: %d", len(enc))
		}
		id := arweave.ID{}
		copy(id[:], enc)
		target = &id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// SaveManifestPaths indexes every resolved path of one manifest in a
// single transaction.
func (s *Store) SaveManifestPaths(ctx context.Context, manifestID arweave.ID, paths map[string]arweave.ID) error {
	ctx, span := trace.StartSpan(ctx, "GatewayDB.SaveManifestPaths")
	defer span.End()
	return s.update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(manifestPathsBucket)
		for path, target := range paths {
			if err := bkt.Put(manifestPathKey(manifestID, path), target.Bytes()); err != nil {
				return errors.Wrap(err, "could not index manifest path")
			}
		}
		return nil
	})
}
