// Package textutil provides text cleanup for raw CSV field values.
//
// Uploaded files come from a mix of Windows exports and hand-edited
// spreadsheets, so cells may carry a UTF-8 BOM, stray Latin-1 bytes, or
// padding whitespace. Normalize handles all of that without ever failing:
// malformed bytes are dropped, never fatal.
package textutil

import (
	"strings"
	"unicode/utf8"
)

// utf8BOM is the byte-order mark Excel prepends to UTF-8 CSV exports.
const utf8BOM = "\xEF\xBB\xBF"

// Normalize cleans a raw cell value:
//   - strips a leading UTF-8 BOM
//   - drops byte sequences that are not valid UTF-8
//   - trims leading and trailing whitespace
//
// It is a pure function; the same input always yields the same output.
func Normalize(raw string) string {
	s := strings.TrimPrefix(raw, utf8BOM)

	if !utf8.ValidString(s) {
		s = dropInvalidUTF8(s)
	}

	return strings.TrimSpace(s)
}

// dropInvalidUTF8 removes bytes that do not form valid UTF-8 sequences.
// Valid runes are copied through untouched.
func dropInvalidUTF8(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}

	return b.String()
}
