package sources

import (
	"context"

	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/peers"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PeerChunkSource fetches chunks from peer gateways selected by sync
// bucket coverage and weight. Every fetched chunk is validated against
// the caller's data root before it is accepted; a peer that serves bad
// bytes costs one failed attempt and a weight penalty, nothing more.
type PeerChunkSource struct {
	selector PeerSelector
	hosts    HostChunkFetcher
}

// NewPeerChunkSource creates a chunk source over the given peer
// selection and host transport.
func NewPeerChunkSource(selector PeerSelector, hosts HostChunkFetcher) *PeerChunkSource {
	return &PeerChunkSource{selector: selector, hosts: hosts}
}

// Chunk tries candidate peers in selection order until one serves a
// chunk that validates. Peer weights are adjusted on every explicit
// outcome; a cancelled request adjusts nothing.
func (s *PeerChunkSource) Chunk(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.Chunk, error) {
	cfg := params.Gateway()
	candidates := s.selector.SelectPeersForOffset(absoluteOffset, cfg.PeerCandidates)
	if len(candidates) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "no peers cover offset %d", absoluteOffset)
	}

	var children []error
	for _, peer := range candidates {
		chunk, err := s.fetchFromPeer(ctx, peer, txSize, absoluteOffset, dataRoot, relativeOffset)
		if err == nil {
			s.selector.ReportSuccess(peers.CategoryGetChunk, peer)
			return chunk, nil
		}
		if IsCancelled(err) {
			return nil, err
		}
		s.selector.ReportFailure(peers.CategoryGetChunk, peer)
		log.WithError(err).WithFields(logrus.Fields{
			"peer":   peer,
			"offset": absoluteOffset,
		}).Debug("Peer chunk fetch failed")
		children = append(children, errors.Wrapf(err, "peer %s", peer))
	}
	return nil, &AllSourcesFailedError{Children: children}
}

func (s *PeerChunkSource) fetchFromPeer(ctx context.Context, peer string, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.Chunk, error) {
	reqCtx, cancel := context.WithTimeout(ctx, params.Gateway().PeerChunkTimeout)
	defer cancel()
	wire, err := s.hosts.GetChunk(reqCtx, peer, absoluteOffset)
	if err != nil {
		// A cancelled parent request is not the peer's fault. A
		// per-peer timeout with the parent still live is.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(ErrPeerUnavailable, err.Error())
	}
	chunk, err := wire.Decode(dataRoot, int64(relativeOffset), int64(txSize))
	if err != nil {
		chunkValidationFailures.Inc()
		return nil, errors.Wrap(ErrValidationFailed, err.Error())
	}
	chunk.AbsoluteOffset = absoluteOffset - (relativeOffset - chunk.Offset)
	return chunk, nil
}

// ChunkMetadata fetches a full chunk from a peer and returns its
// metadata.
func (s *PeerChunkSource) ChunkMetadata(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkMetadata, error) {
	chunk, err := s.Chunk(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
	if err != nil {
		return nil, err
	}
	return &chunk.ChunkMetadata, nil
}

// ChunkData fetches a full chunk from a peer and returns its payload.
func (s *PeerChunkSource) ChunkData(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkData, error) {
	chunk, err := s.Chunk(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
	if err != nil {
		return nil, err
	}
	return &chunk.ChunkData, nil
}
