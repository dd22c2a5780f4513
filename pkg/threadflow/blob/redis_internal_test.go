package blob

import "testing"

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"history/t1/", "history/t1/"},
		{"a*b", `a\*b`},
		{"q?[x]", `q\?\[x\]`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeGlob(tt.in); got != tt.want {
			t.Errorf("escapeGlob(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
