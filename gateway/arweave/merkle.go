package arweave

import (
	"bytes"
	"crypto/sha256"

	"github.com/permagate/permagate/config/params"
	"github.com/pkg/errors"
)

const (
	// HashSize is the byte length of every node hash in a proof path.
	HashSize = 32
	// MerkleNoteSize is the byte length of the big-endian offset note
	// following each node hash in a proof path.
	MerkleNoteSize = 32
	// BranchNodeSize is the encoded size of one branch step in a proof.
	BranchNodeSize = 2*HashSize + MerkleNoteSize
	// LeafNodeSize is the encoded size of the trailing leaf of a proof.
	LeafNodeSize = HashSize + MerkleNoteSize
)

var (
	// ErrInvalidProof rejects a proof whose hash chain does not
	// reproduce the expected root.
	ErrInvalidProof = errors.New("invalid inclusion proof")
	// ErrMalformedProof rejects a proof that cannot be parsed.
	ErrMalformedProof = errors.New("malformed inclusion proof")
)

// PathValidation reports the chunk bounds proven by a successful proof
// walk. Offset is the inclusive end offset of the chunk within the
// transaction payload; the chunk spans [LeftBound, RightBound).
type PathValidation struct {
	Offset     int64
	LeftBound  int64
	RightBound int64
	ChunkSize  int64
}

// ValidatePath walks an inclusion proof from root towards the leaf
// that covers dest, checking every node hash along the way. Out of
// range destinations are clamped: a dest at or beyond rightBound
// validates the final byte, a negative dest validates the first.
func ValidatePath(root []byte, dest, leftBound, rightBound int64, path []byte) (*PathValidation, error) {
	if rightBound <= 0 {
		return nil, errors.Wrap(ErrInvalidProof, "right bound is not positive")
	}
	if dest >= rightBound {
		return ValidatePath(root, 0, rightBound-1, rightBound, path)
	}
	if dest < 0 {
		return ValidatePath(root, 0, 0, rightBound, path)
	}

	if len(path) == LeafNodeSize {
		dataHash := path[:HashSize]
		note := path[HashSize:LeafNodeSize]
		if !bytes.Equal(root, hashLeaf(dataHash, note)) {
			return nil, errors.Wrap(ErrInvalidProof, "leaf hash mismatch")
		}
		return &PathValidation{
			Offset:     rightBound - 1,
			LeftBound:  leftBound,
			RightBound: rightBound,
			ChunkSize:  rightBound - leftBound,
		}, nil
	}

	if len(path) < BranchNodeSize {
		return nil, errors.Wrap(ErrMalformedProof, "path shorter than a branch node")
	}
	left := path[:HashSize]
	right := path[HashSize : 2*HashSize]
	note := path[2*HashSize : BranchNodeSize]
	remainder := path[BranchNodeSize:]
	if !bytes.Equal(root, hashBranchNode(left, right, note)) {
		return nil, errors.Wrap(ErrInvalidProof, "branch hash mismatch")
	}
	offset := noteToInt(note)
	if dest < offset {
		return ValidatePath(left, dest, leftBound, minInt64(rightBound, offset), remainder)
	}
	return ValidatePath(right, dest, maxInt64(leftBound, offset), rightBound, remainder)
}

// ValidateChunk checks chunk bytes against an inclusion proof anchored
// at dataRoot: the proof must walk to a leaf covering relativeOffset
// and the leaf hash must equal the SHA-256 of the chunk bytes.
func ValidateChunk(dataRoot []byte, relativeOffset, txSize int64, dataPath, chunk []byte) (*PathValidation, error) {
	v, err := ValidatePath(dataRoot, relativeOffset, 0, txSize, dataPath)
	if err != nil {
		return nil, err
	}
	leafHash := dataPath[len(dataPath)-LeafNodeSize : len(dataPath)-MerkleNoteSize]
	chunkHash := sha256.Sum256(chunk)
	if !bytes.Equal(chunkHash[:], leafHash) {
		return nil, errors.Wrap(ErrInvalidProof, "chunk hash does not match proof leaf")
	}
	if int64(len(chunk)) != v.ChunkSize {
		return nil, errors.Wrapf(ErrInvalidProof, "chunk length %d does not match proven bounds %d", len(chunk), v.ChunkSize)
	}
	return v, nil
}

// DataRootFromTxPath extracts a transaction's data root from the
// trailing leaf of its tx_path proof.
func DataRootFromTxPath(txPath []byte) ([]byte, error) {
	if len(txPath) < LeafNodeSize {
		return nil, errors.Wrap(ErrMalformedProof, "tx path shorter than a leaf node")
	}
	return txPath[len(txPath)-LeafNodeSize : len(txPath)-MerkleNoteSize], nil
}

// ChunkRange describes one chunk of a split payload.
type ChunkRange struct {
	DataHash     []byte
	MinByteRange uint64
	MaxByteRange uint64
}

// ChunkProof pairs a chunk's inclusive end offset with its proof path.
type ChunkProof struct {
	Offset uint64
	Proof  []byte
}

// TransactionChunks is the full chunk layout of a payload: the Merkle
// data root plus one range and proof per chunk.
type TransactionChunks struct {
	DataRoot []byte
	Chunks   []ChunkRange
	Proofs   []ChunkProof
}

// SplitData slices a payload into chunk ranges. Chunks are MaxChunkSize
// bytes except the last two: when the trailing remainder would fall
// below MinChunkSize, the final full chunk and the remainder are
// rebalanced into two roughly equal halves.
func SplitData(data []byte) []ChunkRange {
	cfg := params.Gateway()
	maxSize := int(cfg.MaxChunkSize)
	minSize := int(cfg.MinChunkSize)

	var chunks []ChunkRange
	rest := data
	cursor := 0
	for len(rest) >= maxSize {
		size := maxSize
		if rem := len(rest) - maxSize; rem > 0 && rem < minSize {
			size = (len(rest) + 1) / 2
		}
		h := sha256.Sum256(rest[:size])
		cursor += size
		chunks = append(chunks, ChunkRange{
			DataHash:     h[:],
			MinByteRange: uint64(cursor - size),
			MaxByteRange: uint64(cursor),
		})
		rest = rest[size:]
	}
	h := sha256.Sum256(rest)
	return append(chunks, ChunkRange{
		DataHash:     h[:],
		MinByteRange: uint64(cursor),
		MaxByteRange: uint64(cursor + len(rest)),
	})
}

// GenerateTransactionChunks splits a payload, builds its Merkle tree
// and derives one proof per chunk. A trailing zero-length chunk takes
// part in the root but is dropped from the returned chunk list, which
// mirrors how upload clients prepare transactions.
func GenerateTransactionChunks(data []byte) *TransactionChunks {
	chunks := SplitData(data)
	leaves := make([]*merkleNode, len(chunks))
	for i, c := range chunks {
		leaves[i] = generateLeaf(c)
	}
	root := buildLayers(leaves)
	proofs := generateProofs(root)

	if last := chunks[len(chunks)-1]; last.MaxByteRange-last.MinByteRange == 0 {
		chunks = chunks[:len(chunks)-1]
		proofs = proofs[:len(proofs)-1]
	}
	return &TransactionChunks{
		DataRoot: root.id,
		Chunks:   chunks,
		Proofs:   proofs,
	}
}

type merkleNode struct {
	id           []byte
	dataHash     []byte
	byteRange    uint64
	maxByteRange uint64
	leaf         bool
	left         *merkleNode
	right        *merkleNode
}

func generateLeaf(c ChunkRange) *merkleNode {
	return &merkleNode{
		id:           hashLeaf(c.DataHash, intToNote(c.MaxByteRange)),
		dataHash:     c.DataHash,
		maxByteRange: c.MaxByteRange,
		leaf:         true,
	}
}

func buildLayers(nodes []*merkleNode) *merkleNode {
	for len(nodes) > 1 {
		next := make([]*merkleNode, 0, (len(nodes)+1)/2)
		for i := 0; i < len(nodes); i += 2 {
			if i+1 >= len(nodes) {
				next = append(next, nodes[i])
				break
			}
			next = append(next, branchNode(nodes[i], nodes[i+1]))
		}
		nodes = next
	}
	return nodes[0]
}

func branchNode(left, right *merkleNode) *merkleNode {
	return &merkleNode{
		id:           hashBranchNode(left.id, right.id, intToNote(left.maxByteRange)),
		byteRange:    left.maxByteRange,
		maxByteRange: right.maxByteRange,
		left:         left,
		right:        right,
	}
}

func generateProofs(n *merkleNode) []ChunkProof {
	if n.leaf {
		proof := make([]byte, 0, LeafNodeSize)
		proof = append(proof, n.dataHash...)
		proof = append(proof, intToNote(n.maxByteRange)...)
		return []ChunkProof{{Offset: n.maxByteRange - 1, Proof: proof}}
	}
	partial := make([]byte, 0, BranchNodeSize)
	partial = append(partial, n.left.id...)
	partial = append(partial, n.right.id...)
	partial = append(partial, intToNote(n.byteRange)...)

	var out []ChunkProof
	for _, child := range []*merkleNode{n.left, n.right} {
		for _, p := range generateProofs(child) {
			proof := make([]byte, 0, len(partial)+len(p.Proof))
			proof = append(proof, partial...)
			proof = append(proof, p.Proof...)
			out = append(out, ChunkProof{Offset: p.Offset, Proof: proof})
		}
	}
	return out
}

func hashLeaf(dataHash, note []byte) []byte {
	hData := sha256.Sum256(dataHash)
	hNote := sha256.Sum256(note)
	h := sha256.New()
	h.Write(hData[:])
	h.Write(hNote[:])
	return h.Sum(nil)
}

func hashBranchNode(left, right, note []byte) []byte {
	hLeft := sha256.Sum256(left)
	hRight := sha256.Sum256(right)
	hNote := sha256.Sum256(note)
	h := sha256.New()
	h.Write(hLeft[:])
	h.Write(hRight[:])
	h.Write(hNote[:])
	return h.Sum(nil)
}

// intToNote encodes a value as a 32 byte big-endian offset note.
func intToNote(v uint64) []byte {
	note := make([]byte, MerkleNoteSize)
	for i := MerkleNoteSize - 1; i >= 0 && v > 0; i-- {
		note[i] = byte(v)
		v >>= 8
	}
	return note
}

// noteToInt decodes a big-endian offset note.
func noteToInt(note []byte) int64 {
	var v uint64
	for _, b := range note {
		v = v<<8 | uint64(b)
	}
	return int64(v)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
