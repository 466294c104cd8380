package peers

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Erlang external term format tags used by /sync_buckets documents.
const (
	etfVersion       = 131
	etfNewFloat      = 70
	etfSmallInteger  = 97
	etfInteger       = 98
	etfAtom          = 100
	etfSmallTuple    = 104
	etfLargeTuple    = 105
	etfNil           = 106
	etfString        = 107
	etfList          = 108
	etfBinary        = 109
	etfSmallBig      = 110
	etfLargeBig      = 111
	etfMap           = 116
	etfAtomUTF8      = 118
	etfSmallAtomUTF8 = 119
)

const maxEtfDepth = 32

// SyncBuckets is a peer's advertised weave coverage: which fixed-size
// buckets of the global weave the peer claims to hold, and how much of
// each.
type SyncBuckets struct {
	BucketSize uint64
	Shares     map[uint64]float64
}

// Covers reports whether the peer advertises more than minShare of the
// bucket containing absoluteOffset.
func (b *SyncBuckets) Covers(absoluteOffset uint64, minShare float64) bool {
	if b == nil || b.BucketSize == 0 {
		return false
	}
	share, ok := b.Shares[absoluteOffset/b.BucketSize]
	return ok && share > minShare
}

// ParseSyncBuckets decodes the binary ETF document served at
// /sync_buckets: a two-tuple of the bucket size and a map from bucket
// index to synced share.
func ParseSyncBuckets(data []byte) (*SyncBuckets, error) {
	d := &etfDecoder{buf: data}
	version, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if version != etfVersion {
		return nil, errors.Errorf("unsupported term format version %d", version)
	}
	term, err := d.decode(0)
	if err != nil {
		return nil, err
	}
	tuple, ok := term.(etfTuple)
	if !ok || len(tuple) != 2 {
		return nil, errors.New("sync buckets document is not a two-tuple")
	}
	size, ok := etfUint(tuple[0])
	if !ok || size == 0 {
		return nil, errors.New("invalid sync bucket size")
	}
	pairs, ok := tuple[1].(etfMapTerm)
	if !ok {
		return nil, errors.New("sync buckets document has no bucket map")
	}
	buckets := &SyncBuckets{
		BucketSize: size,
		Shares:     make(map[uint64]float64, len(pairs)),
	}
	for _, p := range pairs {
		index, ok := etfUint(p.key)
		if !ok {
			return nil, errors.New("non-integer bucket index")
		}
		share, ok := etfFloat(p.value)
		if !ok {
			return nil, errors.New("non-numeric bucket share")
		}
		buckets.Shares[index] = share
	}
	return buckets, nil
}

type etfTuple []interface{}

type etfPair struct {
	key   interface{}
	value interface{}
}

type etfMapTerm []etfPair

type etfDecoder struct {
	buf []byte
	pos int
}

func (d *etfDecoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, errors.New("unexpected end of term")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *etfDecoder) readN(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, errors.New("unexpected end of term")
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *etfDecoder) readUint16() (uint16, error) {
	b, err := d.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *etfDecoder) readUint32() (uint32, error) {
	b, err := d.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *etfDecoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *etfDecoder) decode(depth int) (interface{}, error) {
	if depth > maxEtfDepth {
		return nil, errors.New("term nesting too deep")
	}
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case etfSmallInteger:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return int64(b), nil
	case etfInteger:
		v, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return int64(int32(v)), nil
	case etfNewFloat:
		b, err := d.readN(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case etfAtom, etfAtomUTF8:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case etfSmallAtomUTF8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case etfBinary:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case etfString:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case etfSmallTuple:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.decodeTuple(int(n), depth)
	case etfLargeTuple:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return d.decodeTuple(int(n), depth)
	case etfNil:
		return etfTuple{}, nil
	case etfList:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		list, err := d.decodeTuple(int(n), depth)
		if err != nil {
			return nil, err
		}
		// Consume the tail, normally nil.
		if _, err := d.decode(depth + 1); err != nil {
			return nil, err
		}
		return list, nil
	case etfMap:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		if int(n) > d.remaining() {
			return nil, errors.New("map arity exceeds input")
		}
		pairs := make(etfMapTerm, 0, n)
		for i := 0; i < int(n); i++ {
			key, err := d.decode(depth + 1)
			if err != nil {
				return nil, err
			}
			value, err := d.decode(depth + 1)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, etfPair{key: key, value: value})
		}
		return pairs, nil
	case etfSmallBig:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.decodeBig(int(n))
	case etfLargeBig:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return d.decodeBig(int(n))
	default:
		return nil, errors.Errorf("unsupported term tag %d", tag)
	}
}

func (d *etfDecoder) decodeTuple(n, depth int) (etfTuple, error) {
	if n > d.remaining() {
		return nil, errors.New("tuple arity exceeds input")
	}
	tuple := make(etfTuple, 0, n)
	for i := 0; i < n; i++ {
		term, err := d.decode(depth + 1)
		if err != nil {
			return nil, err
		}
		tuple = append(tuple, term)
	}
	return tuple, nil
}

// decodeBig reads an Erlang bignum: sign byte then n little-endian
// magnitude bytes. Values beyond 64 bits are rejected, weave offsets
// never need them.
func (d *etfDecoder) decodeBig(n int) (interface{}, error) {
	sign, err := d.readByte()
	if err != nil {
		return nil, err
	}
	b, err := d.readN(n)
	if err != nil {
		return nil, err
	}
	if n > 8 {
		return nil, errors.New("big integer too large")
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	if v > math.MaxInt64 {
		return nil, errors.New("big integer too large")
	}
	if sign == 1 {
		return -int64(v), nil
	}
	return int64(v), nil
}

func etfUint(term interface{}) (uint64, bool) {
	v, ok := term.(int64)
	if !ok || v < 0 {
		return 0, false
	}
	return uint64(v), true
}

func etfFloat(term interface{}) (float64, bool) {
	switch v := term.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}
