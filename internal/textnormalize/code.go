package textnormalize

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

// Code normalizes a source or decompiler listing before embedding:
//   - Unicode NFKC
//   - non-ASCII runs (string literals, comments) transliterated to ASCII
//   - runs of horizontal whitespace collapsed to one space
//   - trailing whitespace and blank lines dropped
//
// Punctuation and case are kept; they carry meaning in code.
func Code(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = norm.NFKC.String(s)
	if !isASCII(s) {
		s = unidecode.Unidecode(s)
	}

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = collapseSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// collapseSpace keeps leading indentation as-is and collapses inner runs.
func collapseSpace(line string) string {
	line = strings.TrimRightFunc(line, unicode.IsSpace)
	trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
	indent := line[:len(line)-len(trimmed)]

	var b strings.Builder
	b.Grow(len(line))
	b.WriteString(indent)
	space := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
