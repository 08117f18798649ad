package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedRange means the header cannot be parsed; servers ignore it
	// and send the full body.
	ErrMalformedRange = errors.New("malformed range header")

	// ErrRangeNotSatisfiable means the range lies outside the object (HTTP 416).
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// HTTPRange is a resolved, inclusive byte range.
type HTTPRange struct {
	Start int64
	End   int64
}

// ParseRange resolves a single-range Range header against size.
// Supported forms: "bytes=0-1023", "bytes=1024-", "bytes=-500".
// Multi-range requests are reported as malformed.
func ParseRange(header string, size int64) (*HTTPRange, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid object size: %d", size)
	}

	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return nil, fmt.Errorf("%w: missing bytes= prefix", ErrMalformedRange)
	}
	spec = strings.TrimSpace(spec)
	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("%w: multiple ranges", ErrMalformedRange)
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, fmt.Errorf("%w: expected start-end", ErrMalformedRange)
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	var start, end int64
	switch {
	case startStr == "" && endStr == "":
		return nil, fmt.Errorf("%w: empty range", ErrMalformedRange)

	case startStr == "":
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix < 0 {
			return nil, fmt.Errorf("%w: bad suffix length %q", ErrMalformedRange, endStr)
		}
		if suffix == 0 || size == 0 {
			return nil, ErrRangeNotSatisfiable
		}
		start = max(size-suffix, 0)
		end = size - 1

	default:
		var err error
		start, err = strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return nil, fmt.Errorf("%w: bad start %q", ErrMalformedRange, startStr)
		}
		if endStr == "" {
			end = size - 1
		} else {
			end, err = strconv.ParseInt(endStr, 10, 64)
			if err != nil || end < 0 {
				return nil, fmt.Errorf("%w: bad end %q", ErrMalformedRange, endStr)
			}
			if start > end {
				return nil, fmt.Errorf("%w: start %d > end %d", ErrMalformedRange, start, end)
			}
		}
		if start >= size {
			return nil, ErrRangeNotSatisfiable
		}
		end = min(end, size-1)
	}

	return &HTTPRange{Start: start, End: end}, nil
}

// ContentLength returns the number of bytes in this range
func (r *HTTPRange) ContentLength() int64 {
	return r.End - r.Start + 1
}

// ContentRangeHeader formats "bytes start-end/total".
func (r *HTTPRange) ContentRangeHeader(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiedRangeHeader formats the Content-Range value sent with a 416.
func UnsatisfiedRangeHeader(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
