package identity

import "testing"

func TestDeriveID(t *testing.T) {
	id1 := DeriveID("https://example.com/a")
	id2 := DeriveID("https://example.com/a")
	if id1 != id2 {
		t.Errorf("same URL should give same id: %d vs %d", id1, id2)
	}
	if id1 < 0 {
		t.Errorf("id must be non-negative: %d", id1)
	}
}

func TestDeriveID_differentURLs(t *testing.T) {
	if DeriveID("https://x/a") == DeriveID("https://x/b") {
		t.Error("different URLs should give different ids")
	}
}

func TestDeriveID_surroundingWhitespace(t *testing.T) {
	if DeriveID("  https://x/a\n") != DeriveID("https://x/a") {
		t.Error("surrounding whitespace should not change the id")
	}
	if DeriveID("https://x/a/") == DeriveID("https://x/a") {
		t.Error("trailing slash is a different URL")
	}
}

func TestDeriveID_range(t *testing.T) {
	urls := []string{"", "a", "https://example.com", "https://example.com/?q=1", "ftp://x"}
	for _, u := range urls {
		id := DeriveID(u)
		if id < 0 || id > MaxID {
			t.Errorf("DeriveID(%q) = %d out of range", u, id)
		}
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://x/a", "https://x/a"},
		{" https://x/a ", "https://x/a"},
		{"\thttps://x/a\n", "https://x/a"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
