package domain

import "time"

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Valid reports whether the role is one of the closed set.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// SenderKind identifies who authored a message.
type SenderKind string

const (
	SenderStudent SenderKind = "student"
	SenderTeacher SenderKind = "teacher"
	SenderAI      SenderKind = "ai"
)

// SenderForRole maps a user role to its message sender kind.
func SenderForRole(r Role) SenderKind {
	if r == RoleTeacher {
		return SenderTeacher
	}
	return SenderStudent
}

// Understanding is a student's self-reported grasp of a topic.
type Understanding string

const (
	UnderstandingComplete Understanding = "complete"
	UnderstandingPartial  Understanding = "partial"
	UnderstandingNone     Understanding = "none"
)

// Valid reports whether the level is one of the closed set.
func (u Understanding) Valid() bool {
	return u == UnderstandingComplete || u == UnderstandingPartial || u == UnderstandingNone
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Contact   string    `json:"contact,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Announcement is a teacher-authored unit of course material. Content holds
// free text entered directly; ExtractedText holds text pulled from an
// uploaded PDF. Read-only after creation.
type Announcement struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"authorId"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	ExtractedText string    `json:"-"`
	StorageKey    string    `json:"-"`
	Topics        []string  `json:"topics,omitempty"`
	TopicsDerived bool      `json:"topicsDerived"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Material returns the reference text used for AI answers.
func (a Announcement) Material() string {
	if a.ExtractedText != "" {
		return a.ExtractedText
	}
	return a.Content
}

// Thread is a per-topic discussion channel. Topic is immutable once the
// announcement's topic derivation completes; polls are keyed by it.
type Thread struct {
	ID             string    `json:"id"`
	AnnouncementID string    `json:"announcementId"`
	Title          string    `json:"title"`
	Topic          string    `json:"topic"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Message is an append-only thread entry. UserID is nil for AI-authored
// messages. UserName and UserRole are display joins filled on read, never
// persisted.
type Message struct {
	ID         string     `json:"id"`
	ThreadID   string     `json:"threadId"`
	UserID     *string    `json:"userId,omitempty"`
	SenderKind SenderKind `json:"senderKind"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`

	UserName string `json:"userName,omitempty"`
	UserRole Role   `json:"userRole,omitempty"`
}

// Poll is the single live understanding vote of one student on one thread.
// Later votes overwrite, never accumulate.
type Poll struct {
	ThreadID  string        `json:"threadId"`
	StudentID string        `json:"studentId"`
	Level     Understanding `json:"level"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// PollCounts holds distinct-student vote counts per level for one thread.
type PollCounts struct {
	Complete int `json:"complete"`
	Partial  int `json:"partial"`
	None     int `json:"none"`
}

// Total is the number of distinct students that voted.
func (c PollCounts) Total() int {
	return c.Complete + c.Partial + c.None
}
