package helpers

import (
	"strings"
	"unicode/utf8"
)

// SanitizeUTF8 removes invalid UTF-8 sequences, NULL bytes, and C0 control
// characters (except tab, newline, and carriage return) from a string.
// Header values from the wild routinely carry bytes that are not valid UTF-8;
// the XML 1.0 character set also excludes most control characters, so strings
// must be cleaned before they are persisted or rendered into a feed document.
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) && !strings.ContainsFunc(s, isDisallowedRune) {
		return s
	}

	buf := make([]rune, 0, len(s))
	for i, r := range s {
		if isDisallowedRune(r) {
			continue
		}
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue // skip invalid byte
			}
		}
		buf = append(buf, r)
	}
	return string(buf)
}

func isDisallowedRune(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r < 0x20 || r == 0x7f
}
