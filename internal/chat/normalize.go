package chat

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeContent returns s in Unicode NFC with trailing whitespace removed.
//
// Messages typed on different platforms may encode the same text with
// different code point sequences; NFC makes equal text byte-equal.
func NormalizeContent(s string) string {
	return strings.TrimRight(norm.NFC.String(s), " \t\r\n")
}

// IsBlank reports whether s has no visible content.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
