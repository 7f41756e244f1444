package files

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// unsafeChars are stripped from filenames entirely
const unsafeChars = `<>:"/\|?*`

// maxFilenameBytes bounds sanitized filenames in UTF-8 bytes
const maxFilenameBytes = 200

// SanitizeFilename strips unsafe and control characters, collapses whitespace
// runs into a single underscore and truncates to 200 bytes on a rune
// boundary. Idempotent: sanitizing an already-sanitized name is a no-op.
func SanitizeFilename(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	inSpace := false
	for _, r := range raw {
		switch {
		case strings.ContainsRune(unsafeChars, r):
			// dropped
		case unicode.IsControl(r):
			// dropped
		case unicode.IsSpace(r):
			if !inSpace {
				b.WriteByte('_')
				inSpace = true
			}
		default:
			b.WriteRune(r)
			inSpace = false
		}
	}

	out := b.String()
	for len(out) > maxFilenameBytes {
		_, size := utf8.DecodeLastRuneInString(out)
		out = out[:len(out)-size]
	}
	return out
}
