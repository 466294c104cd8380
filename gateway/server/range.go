package server

import (
	"strconv"
	"strings"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
)

var (
	// errMalformedRange rejects headers this server cannot parse,
	// including multi-range requests.
	errMalformedRange = errors.New("malformed range header")
	// errUnsatisfiableRange rejects ranges lying outside the payload.
	errUnsatisfiableRange = errors.New("range not satisfiable")
)

// parseRange interprets a single-range bytes header against a payload
// of the given size. Suffix ranges address the final n bytes. An end
// past the payload is clamped to the final byte; a start past the
// payload is unsatisfiable.
func parseRange(spec string, size uint64) (*arweave.Region, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(spec, prefix) {
		return nil, errMalformedRange
	}
	spec = strings.TrimSpace(spec[len(prefix):])
	if spec == "" || strings.Contains(spec, ",") {
		return nil, errMalformedRange
	}
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return nil, errMalformedRange
	}
	startPart := strings.TrimSpace(spec[:dash])
	endPart := strings.TrimSpace(spec[dash+1:])

	if startPart == "" {
		// Suffix form: the final n bytes of the payload.
		n, err := strconv.ParseUint(endPart, 10, 64)
		if err != nil {
			return nil, errMalformedRange
		}
		if n == 0 || size == 0 {
			return nil, errUnsatisfiableRange
		}
		if n > size {
			n = size
		}
		return &arweave.Region{Offset: size - n, Size: n}, nil
	}

	start, err := strconv.ParseUint(startPart, 10, 64)
	if err != nil {
		return nil, errMalformedRange
	}
	if start >= size {
		return nil, errUnsatisfiableRange
	}
	if endPart == "" {
		return &arweave.Region{Offset: start, Size: size - start}, nil
	}
	end, err := strconv.ParseUint(endPart, 10, 64)
	if err != nil {
		return nil, errMalformedRange
	}
	if end < start {
		return nil, errMalformedRange
	}
	if end >= size {
		end = size - 1
	}
	return &arweave.Region{Offset: start, Size: end - start + 1}, nil
}
