package utils

import "testing"

func TestHashString(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{"identical inputs", "what is a vpc?", "what is a vpc?", true},
		{"surrounding whitespace ignored", "  what is a vpc?  ", "what is a vpc?", true},
		{"different inputs", "what is a vpc?", "what is a subnet?", false},
		{"case sensitive", "Query", "query", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha, hb := HashString(tt.a), HashString(tt.b)
			if (ha == hb) != tt.same {
				t.Errorf("HashString(%q)=%s vs HashString(%q)=%s, same=%v want %v",
					tt.a, ha, tt.b, hb, ha == hb, tt.same)
			}
		})
	}
}

func TestHashStringIsHex(t *testing.T) {
	h := HashString("anything")
	if len(h) != 32 {
		t.Fatalf("hash length = %d, want 32 hex chars", len(h))
	}
	for _, r := range h {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			t.Fatalf("non-hex rune %q in %s", r, h)
		}
	}
}
