// Package topics derives a bounded set of discussion topics from raw course
// material.
package topics

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"eduforum/internal/util"
	"eduforum/pkg/ai"
)

const (
	// MinTopics..MaxTopics is the contract: Extract always returns a list
	// in this range.
	MinTopics = 2
	MaxTopics = 6

	maxTopicWords           = 6
	minTopicChars           = 4
	defaultMaxCourseTextLen = 25000
)

// FallbackTopics is returned whenever the generation backend fails. Topic
// extraction must never block thread creation.
var FallbackTopics = []string{"Core Concepts", "Key Topics", "Main Ideas"}

// padTopics fill the list up to MinTopics when the model under-delivers.
var padTopics = []string{"Core Concepts", "Key Topics"}

// listMarker matches numbered or bulleted list entries like "1. Topic",
// "2) Topic" or "*. Topic".
var listMarker = regexp.MustCompile(`^[\d\-\*•]+[.)]\s*(.+)$`)

const extractionRules = `IMPORTANT RULES:
- Extract exactly 2-6 core topics
- Each topic: 2-6 words maximum
- Be specific and descriptive
- Avoid generic words unless necessary
- Output only a numbered list
- No explanations

GOOD Examples:
- TCP vs UDP
- OSI Model Layers
- Routing Algorithms
- Network Security

BAD Examples:
- Introduction (too generic)
- The OSI Reference Model Architecture (too long)`

// Extractor turns course text into validated topic lists via the generation
// backend.
type Extractor struct {
	generator        ai.TextGenerator
	maxCourseTextLen int
}

// NewExtractor builds an extractor. maxCourseTextLen bounds how much course
// text is sent upstream; <=0 selects the default ceiling.
func NewExtractor(generator ai.TextGenerator, maxCourseTextLen int) *Extractor {
	if maxCourseTextLen <= 0 {
		maxCourseTextLen = defaultMaxCourseTextLen
	}
	return &Extractor{generator: generator, maxCourseTextLen: maxCourseTextLen}
}

// Extract returns between 2 and 6 topics, each at most 6 words. It never
// fails: backend errors degrade to FallbackTopics.
func (e *Extractor) Extract(ctx context.Context, courseText string) []string {
	truncated := courseText
	if len(truncated) > e.maxCourseTextLen {
		cut := e.maxCourseTextLen
		for cut > 0 && !utf8.RuneStart(truncated[cut]) {
			cut--
		}
		truncated = truncated[:cut]
	}
	prompt := buildPrompt(truncated)
	response, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("topic extraction failed, using fallback topics", "err", err)
		return append([]string(nil), FallbackTopics...)
	}

	topics := ParseList(response)
	if len(topics) == 0 {
		topics = ParseLines(response)
	}
	topics = trimWords(topics, maxTopicWords)
	for i := 0; len(topics) < MinTopics && i < len(padTopics); i++ {
		topics = append(topics, padTopics[i])
	}
	if len(topics) > MaxTopics {
		topics = topics[:MaxTopics]
	}
	return topics
}

func buildPrompt(courseText string) string {
	return fmt.Sprintf("%s\n\nCourse text:\n%s\n\nExtract 2-6 topics (2-6 words each):", extractionRules, courseText)
}

// ParseList extracts entries from a numbered or bulleted list, ignoring
// anything that does not look like a list line or is too short to be a topic.
func ParseList(response string) []string {
	var topics []string
	for _, line := range strings.Split(response, "\n") {
		match := listMarker.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}
		topic := strings.TrimSpace(match[1])
		if len(topic) >= minTopicChars {
			topics = append(topics, topic)
		}
	}
	return topics
}

// ParseLines is the permissive fallback for models that ignore list
// formatting: every non-trivial line counts as a topic.
func ParseLines(response string) []string {
	var topics []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= minTopicChars {
			topics = append(topics, line)
		}
	}
	return topics
}

func trimWords(topics []string, maxWords int) []string {
	trimmed := make([]string, 0, len(topics))
	for _, topic := range topics {
		words := strings.Fields(topic)
		if len(words) > maxWords {
			words = words[:maxWords]
		}
		trimmed = append(trimmed, strings.Join(words, " "))
	}
	return trimmed
}
