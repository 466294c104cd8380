package peers

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"testing"

	"github.com/permagate/permagate/testing/assert"
	"github.com/permagate/permagate/testing/require"
)

func writeEtfInt(b *bytes.Buffer, v int64) {
	switch {
	case v >= 0 && v < 256:
		b.WriteByte(etfSmallInteger)
		b.WriteByte(byte(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		b.WriteByte(etfInteger)
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(int32(v)))
		b.Write(buf[:])
	default:
		b.WriteByte(etfSmallBig)
		mag := make([]byte, 0, 8)
		u := uint64(v)
		for u > 0 {
			mag = append(mag, byte(u))
			u >>= 8
		}
		b.WriteByte(byte(len(mag)))
		b.WriteByte(0)
		b.Write(mag)
	}
}

func writeEtfFloat(b *bytes.Buffer, f float64) {
	b.WriteByte(etfNewFloat)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
	b.Write(buf[:])
}

// encodeSyncBuckets builds the ETF document a peer would serve.
func encodeSyncBuckets(size int64, shares map[uint64]float64) []byte {
	var b bytes.Buffer
	b.WriteByte(etfVersion)
	b.WriteByte(etfSmallTuple)
	b.WriteByte(2)
	writeEtfInt(&b, size)
	b.WriteByte(etfMap)
	var arity [4]byte
	binary.BigEndian.PutUint32(arity[:], uint32(len(shares)))
	b.Write(arity[:])
	keys := make([]uint64, 0, len(shares))
	for k := range shares {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		writeEtfInt(&b, int64(k))
		writeEtfFloat(&b, shares[k])
	}
	return b.Bytes()
}

func TestParseSyncBuckets(t *testing.T) {
	const tenGiB = 10 * 1024 * 1024 * 1024
	doc := encodeSyncBuckets(tenGiB, map[uint64]float64{
		0:  1.0,
		3:  0.25,
		17: 0.998,
	})
	buckets, err := ParseSyncBuckets(doc)
	require.NoError(t, err)
	assert.Equal(t, uint64(tenGiB), buckets.BucketSize)
	require.Equal(t, 3, len(buckets.Shares))
	assert.Equal(t, 1.0, buckets.Shares[0])
	assert.Equal(t, 0.25, buckets.Shares[3])
	assert.Equal(t, 0.998, buckets.Shares[17])
}

func TestParseSyncBuckets_IntegerShares(t *testing.T) {
	var b bytes.Buffer
	b.WriteByte(etfVersion)
	b.WriteByte(etfSmallTuple)
	b.WriteByte(2)
	writeEtfInt(&b, 1024)
	b.WriteByte(etfMap)
	var arity [4]byte
	binary.BigEndian.PutUint32(arity[:], 1)
	b.Write(arity[:])
	writeEtfInt(&b, 7)
	writeEtfInt(&b, 1)

	buckets, err := ParseSyncBuckets(b.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 1.0, buckets.Shares[7])
}

func TestParseSyncBuckets_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		doc     []byte
		wantErr string
	}{
		{
			name:    "empty",
			doc:     nil,
			wantErr: "unexpected end of term",
		},
		{
			name:    "wrong version",
			doc:     []byte{130, etfSmallTuple, 0},
			wantErr: "unsupported term format version",
		},
		{
			name:    "not a tuple",
			doc:     []byte{etfVersion, etfSmallInteger, 5},
			wantErr: "not a two-tuple",
		},
		{
			name:    "wrong arity",
			doc:     []byte{etfVersion, etfSmallTuple, 1, etfSmallInteger, 5},
			wantErr: "not a two-tuple",
		},
		{
			name:    "zero bucket size",
			doc:     encodeSyncBuckets(0, nil),
			wantErr: "invalid sync bucket size",
		},
		{
			name:    "truncated map",
			doc:     encodeSyncBuckets(1024, map[uint64]float64{1: 0.5})[:12],
			wantErr: "unexpected end of term",
		},
		{
			name:    "no map",
			doc:     []byte{etfVersion, etfSmallTuple, 2, etfSmallInteger, 5, etfSmallInteger, 5},
			wantErr: "no bucket map",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSyncBuckets(tt.doc)
			assert.ErrorContains(t, tt.wantErr, err)
		})
	}
}

func TestParseSyncBuckets_DepthBound(t *testing.T) {
	var b bytes.Buffer
	b.WriteByte(etfVersion)
	for i := 0; i < maxEtfDepth+2; i++ {
		b.WriteByte(etfSmallTuple)
		b.WriteByte(1)
	}
	b.WriteByte(etfSmallInteger)
	b.WriteByte(0)
	_, err := ParseSyncBuckets(b.Bytes())
	assert.ErrorContains(t, "nesting too deep", err)
}

func TestSyncBucketsCovers(t *testing.T) {
	b := &SyncBuckets{
		BucketSize: 1000,
		Shares:     map[uint64]float64{2: 0.9, 5: 0.0},
	}
	assert.Equal(t, true, b.Covers(2500, 0))
	assert.Equal(t, false, b.Covers(999, 0), "bucket 0 not advertised")
	assert.Equal(t, false, b.Covers(5500, 0), "zero share does not count")
	assert.Equal(t, false, b.Covers(2500, 0.95), "below minimum share")

	var nilBuckets *SyncBuckets
	assert.Equal(t, false, nilBuckets.Covers(0, 0))
}
