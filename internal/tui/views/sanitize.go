package views

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// sanitizeForTerminal makes remote text safe to draw with tcell/tview.
// Control characters other than newline and tab are dropped so a message
// cannot move the cursor or restyle the terminal. Skin tone modifiers
// (U+1F3FB..U+1F3FF), the Zero Width Joiner (U+200D) and variation
// selectors are dropped so emoji render as single 2-cell glyphs. Invalid
// UTF-8 becomes U+FFFD.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '\r':
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r), isProblematicRune(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isProblematicRune(r rune) bool {
	switch {
	// Skin tone modifiers.
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	// Zero Width Joiner.
	case r == 0x200D:
		return true
	// Variation Selectors.
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	// Variation Selectors Supplement.
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
