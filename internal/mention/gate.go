// Package mention decides whether a posted message summons the AI assistant.
package mention

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultTriggers are the literal substrings that request an AI reply.
var DefaultTriggers = []string{"@ai", "@ ai", "@ai-assistant", "@ai-ta"}

// Gate matches a fixed set of mention triggers, case-insensitively.
type Gate struct {
	triggers []string // lower-cased, longest first
}

// NewGate builds a gate from the given trigger list; empty input falls back
// to DefaultTriggers.
func NewGate(triggers []string) *Gate {
	if len(triggers) == 0 {
		triggers = DefaultTriggers
	}
	normalized := make([]string, 0, len(triggers))
	for _, trigger := range triggers {
		trigger = strings.ToLower(strings.TrimSpace(trigger))
		if trigger != "" {
			normalized = append(normalized, trigger)
		}
	}
	// Longest first so "@ai-ta" is stripped before its "@ai" prefix.
	sort.Slice(normalized, func(i, j int) bool {
		return len(normalized[i]) > len(normalized[j])
	})
	return &Gate{triggers: normalized}
}

// ShouldRespond reports whether the message contains any trigger. Pure, no
// side effects.
func (g *Gate) ShouldRespond(message string) bool {
	lower := strings.ToLower(message)
	for _, trigger := range g.triggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

// Strip removes every trigger occurrence from the message so the literal
// mention never reaches the model, then collapses leftover whitespace.
func (g *Gate) Strip(message string) string {
	for _, trigger := range g.triggers {
		message = removeFold(message, trigger)
	}
	return strings.Join(strings.Fields(message), " ")
}

// removeFold deletes every case-insensitive occurrence of needle from s.
// Offsets are tracked on s itself; lowering the whole string first is not
// safe because folding can change rune widths.
func removeFold(s, needle string) string {
	needleRunes := []rune(needle)
	if len(needleRunes) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if end, ok := matchFold(s, i, needleRunes); ok {
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

// matchFold reports whether needle occurs at byte offset i of s under
// rune-wise case folding, returning the offset just past the match.
func matchFold(s string, i int, needle []rune) (int, bool) {
	for _, nr := range needle {
		if i >= len(s) {
			return 0, false
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.ToLower(r) != unicode.ToLower(nr) {
			return 0, false
		}
		i += size
	}
	return i, true
}
