package arweave

import (
	"bytes"
	"crypto/sha256"
	"strconv"

	"github.com/pkg/errors"
)

// JSONChunk is the chunk document served by Arweave nodes at
// GET /chunk/{offset}. Binary fields are base64url encoded.
type JSONChunk struct {
	Chunk    string `json:"chunk"`
	DataPath string `json:"data_path"`
	TxPath   string `json:"tx_path"`
	Packing  string `json:"packing,omitempty"`
}

// Decode parses and validates a wire chunk against the expected data
// root. The returned chunk carries the bounds proven by its data path.
func (c *JSONChunk) Decode(dataRoot []byte, relativeOffset, txSize int64) (*Chunk, error) {
	if c.Packing != "" && c.Packing != "unpacked" {
		return nil, errors.Errorf("unsupported chunk packing %q", c.Packing)
	}
	data, err := DecodeBase64(c.Chunk)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode chunk data")
	}
	dataPath, err := DecodeBase64(c.DataPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode data path")
	}
	txPath, err := DecodeBase64(c.TxPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode tx path")
	}
	if len(txPath) > 0 {
		root, err := DataRootFromTxPath(txPath)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(root, dataRoot) {
			return nil, errors.Wrap(ErrInvalidProof, "tx path data root mismatch")
		}
	}
	v, err := ValidateChunk(dataRoot, relativeOffset, txSize, dataPath, data)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(data)
	return &Chunk{
		ChunkMetadata: ChunkMetadata{
			DataRoot:  dataRoot,
			DataSize:  uint64(txSize),
			DataPath:  dataPath,
			TxPath:    txPath,
			Offset:    uint64(v.LeftBound),
			ChunkSize: uint64(v.ChunkSize),
			Hash:      hash[:],
		},
		ChunkData: ChunkData{
			Chunk: data,
			Hash:  hash[:],
		},
	}, nil
}

// TxOffset is the offset document served at GET /tx/{id}/offset. The
// node encodes both integers as strings.
type TxOffset struct {
	Offset string `json:"offset"`
	Size   string `json:"size"`
}

// Parse returns the transaction's absolute end offset and payload size.
func (o *TxOffset) Parse() (offset, size uint64, err error) {
	offset, err = strconv.ParseUint(o.Offset, 10, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "could not parse tx offset")
	}
	size, err = strconv.ParseUint(o.Size, 10, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "could not parse tx size")
	}
	return offset, size, nil
}

// NodeInfo is the summary document served at GET /info.
type NodeInfo struct {
	Network string `json:"network"`
	Version int    `json:"version"`
	Release int    `json:"release"`
	Height  int64  `json:"height"`
	Current string `json:"current"`
	Blocks  int64  `json:"blocks"`
	Peers   int    `json:"peers"`
}
