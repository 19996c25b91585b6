package upload

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"videojobs/internal/domain"
)

// DefaultMaxFilenameLength bounds client-supplied names, in runes.
const DefaultMaxFilenameLength = 255

// SanitizeFilename turns a client-supplied name into a single safe path
// segment. Directory components are dropped, and characters outside letters,
// digits, '.', '-' and '_' become '_'.
func SanitizeFilename(name string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxFilenameLength
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: filename is required", domain.ErrInvalidInput)
	}
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: filename is not valid utf-8", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxLen {
		return "", fmt.Errorf("%w: filename longer than %d characters", domain.ErrInvalidInput, maxLen)
	}

	name = norm.NFC.String(name)
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	safe := strings.TrimLeft(b.String(), ".")
	if safe == "" || strings.Trim(safe, "_") == "" {
		return "", fmt.Errorf("%w: filename %q has no usable characters", domain.ErrInvalidInput, name)
	}
	return safe, nil
}
