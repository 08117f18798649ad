// Package partplan splits a file of known size into numbered parts.
// It is shared by the server, which validates plans, and the client,
// which drives uploads from them.
package partplan

import (
	"errors"
	"fmt"
)

// MaxParts is the largest part count a single upload may use.
const MaxParts = 10000

const mib = 1024 * 1024

var (
	// ErrEmptyFile is returned when planning a zero-byte file
	ErrEmptyFile = errors.New("file is empty")
	// ErrInvalidPartSize is returned for non-positive part sizes or negative totals
	ErrInvalidPartSize = errors.New("invalid part size")
	// ErrTooManyParts is returned when a plan would exceed MaxParts
	ErrTooManyParts = errors.New("too many parts")
)

// Part is one contiguous byte range of the source file.
type Part struct {
	Number int   // 1-based
	Offset int64 // byte offset into the file
	Length int64
}

// End returns the offset one past the last byte of the part.
func (p Part) End() int64 {
	return p.Offset + p.Length
}

// Count returns the number of parts needed for totalSize, or 0 when the
// inputs are invalid.
func Count(totalSize, partSize int64) int {
	if totalSize <= 0 || partSize <= 0 {
		return 0
	}
	return int((totalSize + partSize - 1) / partSize)
}

// Plan splits totalSize into parts of partSize bytes. Every part but the
// last has exactly partSize bytes; the last has between 1 and partSize.
func Plan(totalSize, partSize int64) ([]Part, error) {
	if totalSize < 0 || partSize <= 0 {
		return nil, fmt.Errorf("%w: total=%d part=%d", ErrInvalidPartSize, totalSize, partSize)
	}
	if totalSize == 0 {
		return nil, ErrEmptyFile
	}

	n := Count(totalSize, partSize)
	if n > MaxParts {
		return nil, fmt.Errorf("%w: %d parts exceeds limit of %d", ErrTooManyParts, n, MaxParts)
	}

	parts := make([]Part, n)
	for i := range parts {
		offset := int64(i) * partSize
		length := partSize
		if i == n-1 {
			length = totalSize - offset
		}
		parts[i] = Part{Number: i + 1, Offset: offset, Length: length}
	}
	return parts, nil
}

// ChoosePartSize returns preferred, grown in whole MiB steps until a file of
// totalSize fits in MaxParts parts.
func ChoosePartSize(totalSize, preferred int64) int64 {
	size := preferred
	if size <= 0 {
		size = mib
	}
	for Count(totalSize, size) > MaxParts {
		size += mib
	}
	return size
}
