package mention

import (
	"testing"
	"unicode/utf8"
)

func TestShouldRespond(t *testing.T) {
	gate := NewGate(nil)
	cases := []struct {
		message string
		want    bool
	}{
		{"please @AI help", true},
		{"@ai-ta explain this", true},
		{"can the @ AI clarify?", true},
		{"@AI-Assistant what is TCP?", true},
		{"ai is interesting", false},
		{"email me at x@aimail.com", true}, // substring match is intentional
		{"", false},
		{"no mention here", false},
	}
	for _, tc := range cases {
		if got := gate.ShouldRespond(tc.message); got != tc.want {
			t.Errorf("ShouldRespond(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestStripRemovesAllTriggers(t *testing.T) {
	gate := NewGate(nil)
	cases := []struct {
		in   string
		want string
	}{
		{"@AI what is a router?", "what is a router?"},
		{"@ai-ta explain @AI again", "explain again"},
		{"what is @ AI doing", "what is doing"},
		{"plain question", "plain question"},
	}
	for _, tc := range cases {
		if got := gate.Strip(tc.in); got != tc.want {
			t.Errorf("Strip(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// Strip must stay aligned with the original bytes even when lowering a rune
// changes its width ("İ" folds 2→1 bytes, "Ⱥ" folds 2→3).
func TestStripWidthChangingFolds(t *testing.T) {
	gate := NewGate(nil)
	cases := []struct {
		in   string
		want string
	}{
		{"Ⱥ@ai", "Ⱥ"},
		{"İ@ai", "İ"},
		{"Ⱥ Ⱥ @ai help", "Ⱥ Ⱥ help"},
		{"İstanbul @AI what is routing?", "İstanbul what is routing?"},
	}
	for _, tc := range cases {
		got := gate.Strip(tc.in)
		if got != tc.want {
			t.Errorf("Strip(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Strip(%q) produced invalid UTF-8: %q", tc.in, got)
		}
	}
}

func TestGateCustomTriggers(t *testing.T) {
	gate := NewGate([]string{"@Bot"})
	if !gate.ShouldRespond("hey @bot") {
		t.Fatalf("custom trigger should match case-insensitively")
	}
	if gate.ShouldRespond("hey @ai") {
		t.Fatalf("default triggers must not apply when custom list is set")
	}
	if got := gate.Strip("hey @BOT there"); got != "hey there" {
		t.Fatalf("Strip = %q, want %q", got, "hey there")
	}
}
