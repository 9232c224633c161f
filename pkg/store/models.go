package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Role      string `gorm:"not null"`
	Contact   string
	CreatedAt time.Time `gorm:"not null"`
}

type AnnouncementModel struct {
	ID            string `gorm:"primaryKey"`
	AuthorID      string `gorm:"index"`
	Title         string `gorm:"not null"`
	Content       string `gorm:"type:text"`
	ExtractedText string `gorm:"type:text"`
	StorageKey    string
	Topics        datatypes.JSON
	TopicsDerived bool
	CreatedAt     time.Time `gorm:"not null;index"`
}

type ThreadModel struct {
	ID             string    `gorm:"primaryKey"`
	AnnouncementID string    `gorm:"index"`
	Title          string    `gorm:"not null"`
	Topic          string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID         string    `gorm:"primaryKey"`
	ThreadID   string    `gorm:"not null;index"`
	UserID     *string   `gorm:"index"`
	SenderKind string    `gorm:"not null"`
	Content    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

// PollModel holds one live vote per (thread, student); the composite primary
// key enforces the uniqueness invariant at the row level.
type PollModel struct {
	ThreadID  string    `gorm:"primaryKey"`
	StudentID string    `gorm:"primaryKey"`
	Level     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
