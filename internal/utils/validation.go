package utils

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// maxFilenameLength bounds client-supplied names before sanitizing
const maxFilenameLength = 255

// ErrInvalidFilename is returned for names that cannot be stored safely.
var ErrInvalidFilename = errors.New("invalid filename")

// IsFileAllowed checks filename against the blocked extension list.
// Every dotted segment is checked, so "report.exe.txt" is caught as well as
// "report.txt.exe". Returns the matched extension when blocked.
func IsFileAllowed(filename string, blockedExtensions []string) (bool, string) {
	if len(blockedExtensions) == 0 {
		return true, ""
	}

	segments := strings.Split(strings.ToLower(filename), ".")
	if len(segments) < 2 {
		return true, ""
	}

	for _, seg := range segments[1:] {
		ext := "." + seg
		if lo.Contains(blockedExtensions, ext) {
			return false, ext
		}
	}
	return true, ""
}

// GetFileExtension returns the file extension in lowercase
func GetFileExtension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// ValidateFilename rejects empty names, over-long names, and names that are
// only control characters or path separators.
func ValidateFilename(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return ErrInvalidFilename
	}
	if len(filename) > maxFilenameLength {
		return ErrInvalidFilename
	}
	if strings.ContainsRune(filename, 0) {
		return ErrInvalidFilename
	}
	if !lo.SomeBy([]rune(filename), func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) {
		return ErrInvalidFilename
	}
	return nil
}
