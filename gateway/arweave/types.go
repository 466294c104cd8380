// Package arweave defines the chain-level data model of the gateway:
// transaction identifiers, chunks with their Merkle inclusion proofs,
// and the wire formats spoken by Arweave nodes.
package arweave

import (
	"encoding/base64"
	"io"
	"strings"

	"github.com/permagate/permagate/gateway/attributes"
	"github.com/pkg/errors"
)

// IDLength is the raw byte length of a transaction or data item identifier.
const IDLength = 32

// ManifestContentType marks a payload as an Arweave path manifest.
const ManifestContentType = "application/x.arweave-manifest+json"

// ID identifies a transaction or data item. It renders as 43 characters
// of unpadded base64url.
type ID [IDLength]byte

// IDFromString parses a base64url-encoded identifier.
func IDFromString(s string) (ID, error) {
	var id ID
	b, err := DecodeBase64(s)
	if err != nil {
		return id, errors.Wrap(err, "could not decode id")
	}
	if len(b) != IDLength {
		return id, errors.Errorf("invalid id length: %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Bytes returns the identifier as a byte slice.
func (id ID) Bytes() []byte {
	return id[:]
}

// DecodeBase64 decodes unpadded base64url, tolerating padded input.
func DecodeBase64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// EncodeBase64 encodes bytes as unpadded base64url.
func EncodeBase64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Region selects the half-open byte range [Offset, Offset+Size) of a payload.
type Region struct {
	Offset uint64
	Size   uint64
}

// End returns the exclusive upper bound of the region.
func (r Region) End() uint64 {
	return r.Offset + r.Size
}

// ChunkData is the raw payload of a single chunk.
type ChunkData struct {
	Chunk []byte
	Hash  []byte // SHA-256 of Chunk.
}

// ChunkMetadata locates a chunk within its transaction and carries the
// proofs needed to validate it. Offset is the chunk's aligned start
// offset relative to the transaction payload, which may differ from the
// offset a caller asked about when that offset falls mid-chunk.
type ChunkMetadata struct {
	DataRoot  []byte
	DataSize  uint64
	DataPath  []byte
	TxPath    []byte
	Offset    uint64
	ChunkSize uint64
	Hash      []byte
}

// Chunk is a fully resolved chain storage unit: payload plus metadata.
type Chunk struct {
	ChunkMetadata
	ChunkData
	AbsoluteOffset uint64
}

// ContiguousData is a streamed byte payload with retrieval metadata.
// The stream owns its underlying resources until closed or drained.
type ContiguousData struct {
	Stream            io.ReadCloser
	Size              uint64
	SourceContentType string
	Cached            bool
	Trusted           bool
	Verified          bool
	RequestAttributes *attributes.RequestAttributes
}

// DataAttributes is the optional sidecar record describing a payload.
type DataAttributes struct {
	Hash        []byte
	DataRoot    []byte
	Size        uint64
	ContentType string
	IsManifest  bool
	Stable      bool
	Verified    bool
	DataOffset  uint64
	ParentID    *ID
	RootTxID    *ID
	Offset      uint64
}
