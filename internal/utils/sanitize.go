package utils

import (
	"path/filepath"
	"strings"
	"unicode"
)

// fallbackFilename is used when nothing survives sanitizing
const fallbackFilename = "upload"

// SanitizeFilename keeps only the base name and replaces anything other than
// letters, digits, space, hyphen, underscore and period with underscores.
// Quotes, newlines and path separators never survive.
func SanitizeFilename(filename string) string {
	if filename == "" {
		return fallbackFilename
	}

	filename = filepath.Base(strings.ReplaceAll(filename, `\`, "/"))

	result := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' || r == '.' {
			return r
		}
		return '_'
	}, filename)

	result = strings.Trim(result, " .")
	if result == "" {
		return fallbackFilename
	}

	if len(result) > maxFilenameLength {
		ext := filepath.Ext(result)
		if ext != "" && len(ext) < 20 {
			result = result[:maxFilenameLength-len(ext)] + ext
		} else {
			result = result[:maxFilenameLength]
		}
	}

	return result
}

// SanitizeForContentDisposition prepares a filename for a quoted
// Content-Disposition parameter.
func SanitizeForContentDisposition(filename string) string {
	return strings.ReplaceAll(SanitizeFilename(filename), `"`, `\"`)
}
