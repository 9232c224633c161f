package ai

import "strings"

// responseLimits maps model-size hints to response token caps. Matched in
// order by substring against the model id; larger tiers first so "405b" is
// not shadowed by a smaller hint.
var responseLimits = []struct {
	hint  string
	limit int
}{
	{"405b", 3000},
	{"70b", 3000},
	{"13b", 2000},
	{"8b", 2000},
	{"3b", 1500},
	{"1b", 1000},
}

const defaultResponseLimit = 1000

// ResponseLimit returns the response-length cap for a model id. Unknown
// models fall back to the conservative default tier.
func ResponseLimit(model string) int {
	lower := strings.ToLower(model)
	for _, tier := range responseLimits {
		if strings.Contains(lower, tier.hint) {
			return tier.limit
		}
	}
	return defaultResponseLimit
}
