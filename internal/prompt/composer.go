// Package prompt builds role- and history-aware prompts for the generation
// backend, enforcing the material, history, and total-length budgets.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"eduforum/pkg/domain"
)

// Limits bounds the three independent prompt budgets plus history depth.
type Limits struct {
	MaxCourseTextChars int // reference material budget
	MaxHistoryMessages int // most-recent-N window
	MaxMessageChars    int // per-message cap inside the history section
	MaxPromptChars     int // hard total budget after truncation
}

// DefaultLimits mirrors the deployment defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxCourseTextChars: 20000,
		MaxHistoryMessages: 5,
		MaxMessageChars:    400,
		MaxPromptChars:     30000,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxCourseTextChars <= 0 {
		l.MaxCourseTextChars = def.MaxCourseTextChars
	}
	if l.MaxHistoryMessages <= 0 {
		l.MaxHistoryMessages = def.MaxHistoryMessages
	}
	if l.MaxMessageChars <= 0 {
		l.MaxMessageChars = def.MaxMessageChars
	}
	if l.MaxPromptChars <= 0 {
		l.MaxPromptChars = def.MaxPromptChars
	}
	return l
}

// ClosingCue is the fixed instruction sentence every answer prompt ends
// with, including truncated ones, so the model always sees a well-formed
// closing instruction.
const ClosingCue = "Your answer:"

// truncationSuffix replaces the prompt tail when the total budget is
// exceeded.
const truncationSuffix = "\n\n[Content truncated]\n\n" + ClosingCue

const (
	studentRole = "You are a friendly and helpful teaching assistant (TA) for a college course."

	studentInstructions = `Instructions:
1. ANSWER THE CURRENT QUESTION - this is your primary task.
2. Use ONLY information from the course material above.
3. Be clear, friendly, and easy to understand.
4. Previous conversation is ONLY for context (if the asker refers to it).
5. Do NOT repeat or focus on previous answers.
6. Keep the answer focused (2-4 paragraphs).
7. Use markdown: **bold**, lists, and ` + "`code`" + ` for readability.`

	teacherRole = "You are an intelligent educational assistant helping a teacher with course preparation."

	teacherCapabilities = `You can help with:
- Creating quizzes and exam questions (with separate answer keys)
- Generating summaries and study guides
- Explaining concepts in different ways
- Creating assignments and problem sets
- Suggesting teaching strategies
- Analyzing course content`

	teacherInstructions = `Instructions:
1. FULFILL THE CURRENT REQUEST - this is your primary task.
2. Use the course material as your primary reference.
3. Be professional and thorough.
4. For quiz/test questions, provide answers separately at the end.
5. Use markdown formatting for clarity (headers, lists, bold, code blocks).
6. Previous conversation is context only - focus on the NEW request.
7. If the request builds on previous discussion, acknowledge it briefly.`

	summaryInstructions = `Summarize this discussion in 2-3 sentences.
Highlight the main questions asked and key points discussed.
Be concise and informative.`
)

// offTopicRule names the thread topic in the templated refusal both personas
// must apply to unrelated questions.
func offTopicRule(topic string) string {
	return fmt.Sprintf("If the question is unrelated to %q or the course material, do not answer it; reply that in this thread you can only help with %q.", topic, topic)
}

// Composer renders prompts under a fixed set of limits.
type Composer struct {
	limits Limits
}

// NewComposer builds a composer; zero fields in limits take defaults.
func NewComposer(limits Limits) *Composer {
	return &Composer{limits: limits.withDefaults()}
}

// ComposeAnswer builds the answering prompt for a student question or a
// teacher request. History is windowed to the most recent N messages and the
// final prompt never exceeds MaxPromptChars.
func (c *Composer) ComposeAnswer(role domain.Role, threadTopic, material, question string, history []domain.Message, askerName string) string {
	if askerName == "" {
		askerName = string(role)
	}
	material = capChars(material, c.limits.MaxCourseTextChars)
	historySection := c.renderHistorySection(history, askerName, role)

	var b strings.Builder
	if role == domain.RoleTeacher {
		b.WriteString(teacherRole)
		b.WriteString("\n\nDISCUSSION THREAD: \"" + threadTopic + "\"\n")
		b.WriteString("\nCourse material (primary reference):\n")
		b.WriteString(material)
		b.WriteString("\n\nCURRENT REQUEST - THIS IS WHAT YOU MUST FULFILL:\n\n")
		b.WriteString(fmt.Sprintf("%s requests: %s", askerName, question))
		b.WriteString(historySection)
		b.WriteString("\n\n" + teacherCapabilities)
		b.WriteString("\n\n" + teacherInstructions)
		b.WriteString("\n8. " + offTopicRule(threadTopic))
	} else {
		b.WriteString(studentRole)
		b.WriteString("\n\nDISCUSSION THREAD: \"" + threadTopic + "\"\n")
		b.WriteString("This thread is specifically about: " + threadTopic + "\n")
		b.WriteString("\nCourse material (reference for answers):\n")
		b.WriteString(material)
		b.WriteString("\n\nCURRENT QUESTION - THIS IS WHAT YOU MUST ANSWER:\n\n")
		b.WriteString(fmt.Sprintf("%s asks: %s", askerName, question))
		b.WriteString(historySection)
		b.WriteString("\n\n" + studentInstructions)
		b.WriteString("\n8. " + offTopicRule(threadTopic))
	}
	b.WriteString("\n\n" + ClosingCue)
	return c.enforceTotalBudget(b.String())
}

// ComposeSummary builds the thread summarization prompt from the first 10
// messages, each capped at 200 chars.
func (c *Composer) ComposeSummary(messages []domain.Message) string {
	lines := make([]string, 0, len(messages))
	for i, msg := range messages {
		if i >= 10 {
			break
		}
		content := capChars(msg.Content, 200)
		lines = append(lines, fmt.Sprintf("%s: %s", AttributeSender(msg), content))
	}
	prompt := fmt.Sprintf("%s\n\nConversation:\n%s\n\nSummary:", summaryInstructions, strings.Join(lines, "\n"))
	return c.enforceTotalBudget(prompt)
}

func (c *Composer) renderHistorySection(history []domain.Message, askerName string, role domain.Role) string {
	rendered := RenderHistory(history, c.limits.MaxHistoryMessages, c.limits.MaxMessageChars)
	if rendered == "" {
		return ""
	}
	verb := "Answer"
	noun := "QUESTION"
	if role == domain.RoleTeacher {
		verb = "Fulfill"
		noun = "REQUEST"
	}
	return fmt.Sprintf("\n\nPrevious messages in this thread (for context only):\n%s\n\nRemember: %s %s's CURRENT %s above, not previous messages.", rendered, verb, askerName, noun)
}

// RenderHistory renders the most recent maxMessages entries, in original
// order, as "[<sender>]: <content>" lines with each content independently
// capped at maxChars.
func RenderHistory(history []domain.Message, maxMessages, maxChars int) string {
	if len(history) == 0 {
		return ""
	}
	if maxMessages > 0 && len(history) > maxMessages {
		history = history[len(history)-maxMessages:]
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, fmt.Sprintf("[%s]: %s", AttributeSender(msg), capChars(msg.Content, maxChars)))
	}
	return strings.Join(lines, "\n")
}

// AttributeSender labels a message author for the model: AI messages as
// "AI TA", known users as "<name> (Teacher|Student)", and otherwise the raw
// sender kind.
func AttributeSender(msg domain.Message) string {
	if msg.SenderKind == domain.SenderAI {
		return "AI TA"
	}
	if msg.UserName != "" {
		if msg.UserRole == domain.RoleTeacher {
			return msg.UserName + " (Teacher)"
		}
		return msg.UserName + " (Student)"
	}
	return string(msg.SenderKind)
}

// enforceTotalBudget hard-truncates the prompt, making room for the
// truncation marker and closing cue so the budget holds after appending.
func (c *Composer) enforceTotalBudget(prompt string) string {
	max := c.limits.MaxPromptChars
	if len(prompt) <= max {
		return prompt
	}
	cut := max - len(truncationSuffix)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(prompt[cut]) {
		cut--
	}
	return prompt[:cut] + truncationSuffix
}

// capChars truncates s to at most max bytes, backing the cut off to a rune
// boundary so the model never sees a split rune.
func capChars(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
