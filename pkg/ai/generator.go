package ai

import (
	"context"
	"errors"
)

// ErrUnavailable marks failures of the generation backend itself: connection
// refused, timeout, HTTP errors, or an empty payload. Callers match with
// errors.Is and decide whether a local fallback applies.
var ErrUnavailable = errors.New("generation backend unavailable")

// TextGenerator produces a completion for a single prompt.
// All providers (Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
