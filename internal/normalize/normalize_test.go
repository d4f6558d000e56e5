package normalize

import "testing"

func TestName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Taylor   Swift ", "Taylor Swift"},
		{"Des’ree", "Des'ree"},
		{"All‐4‐One", "All-4-One"},
		{"Guns N'' Roses", "Guns N' Roses"},
	}
	for _, tt := range tests {
		if got := Name(tt.in); got != tt.want {
			t.Errorf("Name(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeyStripsFeatClause(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Post Malone (feat. Blake Shelton)", "post malone"},
		{"Drake feat. Future", "drake"},
		{"Beyoncé", "beyoncé"},
		{"  The   Weeknd  ", "the weeknd"},
	}
	for _, tt := range tests {
		if got := Key(tt.in); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAggressive(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Break My Soul (Queens Remix)", "break my soul"},
		{"Beyoncé", "beyonce"},
		{"Don't Stop Believin'", "dont stop believin"},
		{"Undone - The Sweater Song", "undone the sweater song"},
		{"Too Sweet - Radio Edit", "too sweet"},
	}
	for _, tt := range tests {
		if got := Aggressive(tt.in); got != tt.want {
			t.Errorf("Aggressive(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitCollaboration(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Miranda Lambert & Chris Stapleton", []string{"Miranda Lambert", "Chris Stapleton"}},
		{"Post Malone feat. Blake Shelton", []string{"Post Malone", "Blake Shelton"}},
		{"Taylor Swift", []string{"Taylor Swift"}},
		{"Drake x Future x 21 Savage", []string{"Drake", "Future", "21 Savage"}},
	}
	for _, tt := range tests {
		got := SplitCollaboration(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("SplitCollaboration(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitCollaboration(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestPrimaryArtist(t *testing.T) {
	if got := PrimaryArtist("Post Malone feat. Blake Shelton"); got != "Post Malone" {
		t.Errorf("PrimaryArtist = %q, want %q", got, "Post Malone")
	}
	if got := PrimaryArtist("Taylor Swift"); got != "Taylor Swift" {
		t.Errorf("PrimaryArtist = %q, want %q", got, "Taylor Swift")
	}
}

func TestTokenSetRatio(t *testing.T) {
	if r := TokenSetRatio("Break My Soul", "Break My Soul (Queens Remix)"); r < 0.99 {
		t.Errorf("expected full token overlap after stripping parenthetical, got %f", r)
	}
	if r := TokenSetRatio("Anti-Hero", "Shake It Off"); r != 0 {
		t.Errorf("expected 0 for disjoint titles, got %f", r)
	}
	if r := TokenSetRatio("", "anything"); r != 0 {
		t.Errorf("expected 0 for empty input, got %f", r)
	}
}
