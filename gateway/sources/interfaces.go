// Package sources implements the gateway's data retrieval pipeline:
// chunk sources that fetch and validate individual chunks from peers
// or the trusted node, the transaction reassembly stream, upstream
// gateway passthrough, and the sequential fallthrough that chains them
// together.
package sources

import (
	"context"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/attributes"
	"github.com/permagate/permagate/gateway/peers"
)

// ContiguousDataSource produces a transaction or data item's payload
// stream. A nil region requests the full payload.
type ContiguousDataSource interface {
	GetData(ctx context.Context, id arweave.ID, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error)
}

// ChunkMetadataByAnySource produces a chunk's proof metadata, aligned
// offset and size from any available backend.
type ChunkMetadataByAnySource interface {
	ChunkMetadata(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkMetadata, error)
}

// ChunkDataByAnySource produces a chunk's raw bytes from any available
// backend.
type ChunkDataByAnySource interface {
	ChunkData(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkData, error)
}

// ChunkByAnySource produces complete chunks, metadata and data both.
type ChunkByAnySource interface {
	Chunk(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.Chunk, error)
}

// ChainSource resolves transaction placement on the weave, normally
// backed by the trusted node client.
type ChainSource interface {
	TxOffset(ctx context.Context, id arweave.ID) (offset, size uint64, err error)
	TxDataRoot(ctx context.Context, id arweave.ID) ([]byte, error)
}

// ChunkFetcher fetches wire chunks from the trusted node.
type ChunkFetcher interface {
	Chunk(ctx context.Context, absoluteOffset uint64) (*arweave.JSONChunk, error)
}

// TxDataFetcher fetches whole transaction payloads from the trusted
// node's data endpoint.
type TxDataFetcher interface {
	TxData(ctx context.Context, id arweave.ID) ([]byte, error)
}

// HostChunkFetcher fetches wire chunks from arbitrary peer hosts.
type HostChunkFetcher interface {
	GetChunk(ctx context.Context, host string, absoluteOffset uint64) (*arweave.JSONChunk, error)
}

// PeerSelector is the slice of the peer manager the chunk sources
// consume.
type PeerSelector interface {
	SelectPeersForOffset(absoluteOffset uint64, count int) []string
	ReportSuccess(category peers.Category, url string)
	ReportFailure(category peers.Category, url string)
}
