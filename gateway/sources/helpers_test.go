package sources

import (
	"context"
	"sync"
	"testing"

	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/attributes"
	"github.com/permagate/permagate/gateway/peers"
	"github.com/pkg/errors"
)

// setupSourcesConfig shrinks the chunk geometry so multi-chunk
// transactions stay small in tests.
func setupSourcesConfig(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	cfg := params.MinimalTestConfig()
	cfg.MaxChunkSize = 100
	cfg.MinChunkSize = 32
	cfg.PeerCandidates = 3
	cfg.RangePrefetchWindow = 3
	params.OverrideGatewayConfig(cfg)
}

func testTxID(b byte) arweave.ID {
	var id arweave.ID
	for i := range id {
		id[i] = b
	}
	return id
}

// weaveTx is a transaction fixture with real chunks and proofs, placed
// on the weave at a fixed start offset. It serves chunks the way a
// fully synced backend would.
type weaveTx struct {
	data  []byte
	start uint64
	tc    *arweave.TransactionChunks
}

func newWeaveTx(size int, start uint64) *weaveTx {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &weaveTx{
		data:  data,
		start: start,
		tc:    arweave.GenerateTransactionChunks(data),
	}
}

func (w *weaveTx) size() uint64 {
	return uint64(len(w.data))
}

// endOffset is the absolute offset the chain reports for this tx.
func (w *weaveTx) endOffset() uint64 {
	return w.start + w.size() - 1
}

func (w *weaveTx) chunkIndex(relativeOffset uint64) int {
	for i, c := range w.tc.Chunks {
		if relativeOffset >= c.MinByteRange && relativeOffset < c.MaxByteRange {
			return i
		}
	}
	return -1
}

// wireChunk renders chunk i as a node would serve it, with a tx path
// whose trailing leaf carries the transaction's data root.
func (w *weaveTx) wireChunk(i int) *arweave.JSONChunk {
	c := w.tc.Chunks[i]
	txPath := make([]byte, 0, arweave.LeafNodeSize)
	txPath = append(txPath, w.tc.DataRoot...)
	txPath = append(txPath, make([]byte, arweave.MerkleNoteSize)...)
	return &arweave.JSONChunk{
		Chunk:    arweave.EncodeBase64(w.data[c.MinByteRange:c.MaxByteRange]),
		DataPath: arweave.EncodeBase64(w.tc.Proofs[i].Proof),
		TxPath:   arweave.EncodeBase64(txPath),
	}
}

func (w *weaveTx) chunkAt(relativeOffset uint64) (*arweave.Chunk, error) {
	i := w.chunkIndex(relativeOffset)
	if i < 0 {
		return nil, errors.Errorf("no chunk covers offset %d", relativeOffset)
	}
	chunk, err := w.wireChunk(i).Decode(w.tc.DataRoot, int64(relativeOffset), int64(len(w.data)))
	if err != nil {
		return nil, err
	}
	chunk.AbsoluteOffset = w.start + chunk.Offset
	return chunk, nil
}

// Chunk implements ChunkByAnySource over the fixture.
func (w *weaveTx) Chunk(_ context.Context, _ uint64, _ uint64, _ []byte, relativeOffset uint64) (*arweave.Chunk, error) {
	return w.chunkAt(relativeOffset)
}

// stubChain implements ChainSource with fixed placement data.
type stubChain struct {
	offset   uint64
	size     uint64
	dataRoot []byte
	err      error
}

func (s *stubChain) TxOffset(_ context.Context, _ arweave.ID) (uint64, uint64, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	return s.offset, s.size, nil
}

func (s *stubChain) TxDataRoot(_ context.Context, _ arweave.ID) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.dataRoot, nil
}

func (w *weaveTx) chainSource() *stubChain {
	return &stubChain{offset: w.endOffset(), size: w.size(), dataRoot: w.tc.DataRoot}
}

type dataSourceFunc func(ctx context.Context, id arweave.ID, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error)

func (f dataSourceFunc) GetData(ctx context.Context, id arweave.ID, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error) {
	return f(ctx, id, reqAttrs, region)
}

type metadataSourceFunc func(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkMetadata, error)

func (f metadataSourceFunc) ChunkMetadata(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkMetadata, error) {
	return f(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
}

type chunkDataSourceFunc func(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkData, error)

func (f chunkDataSourceFunc) ChunkData(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.ChunkData, error) {
	return f(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
}

type chunkSourceFunc func(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.Chunk, error)

func (f chunkSourceFunc) Chunk(ctx context.Context, txSize, absoluteOffset uint64, dataRoot []byte, relativeOffset uint64) (*arweave.Chunk, error) {
	return f(ctx, txSize, absoluteOffset, dataRoot, relativeOffset)
}

// stubSelector implements PeerSelector with a fixed candidate list and
// records every weight report.
type stubSelector struct {
	mu        sync.Mutex
	peers     []string
	successes []string
	failures  []string
}

func (s *stubSelector) SelectPeersForOffset(_ uint64, _ int) []string {
	return s.peers
}

func (s *stubSelector) ReportSuccess(_ peers.Category, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes = append(s.successes, url)
}

func (s *stubSelector) ReportFailure(_ peers.Category, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, url)
}

func (s *stubSelector) reported() (successes, failures []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.successes...), append([]string(nil), s.failures...)
}

// stubHosts implements HostChunkFetcher over per-host handlers.
type stubHosts struct {
	handlers map[string]func(absoluteOffset uint64) (*arweave.JSONChunk, error)
}

func (s *stubHosts) GetChunk(_ context.Context, host string, absoluteOffset uint64) (*arweave.JSONChunk, error) {
	handler, ok := s.handlers[host]
	if !ok {
		return nil, errors.Errorf("no handler for host %s", host)
	}
	return handler(absoluteOffset)
}
