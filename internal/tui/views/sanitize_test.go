package views

import "testing"

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "hello", "hello"},
		{"newline kept", "a\nb", "a\nb"},
		{"carriage return dropped", "a\r\nb", "a\nb"},
		{"escape sequence neutralized", "\x1b[2Jboom", "[2Jboom"},
		{"bell dropped", "ding\a", "ding"},
		{"skin tone", "👍🏻", "👍"},
		{"zwj", "👨‍👩", "👨👩"},
		{"variation selector", "❤️", "❤"},
		{"invalid utf8", "a\xffb", "a�b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeForTerminal(tt.in); got != tt.want {
				t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
