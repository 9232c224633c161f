package store

import "eduforum/pkg/domain"

// Store defines persistence operations for users, announcements, threads,
// messages, and understanding polls.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserName(name string) (bool, error)
	GetUserByName(name string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	CountUsersByRole(role domain.Role) (int, error)

	// announcements
	SaveAnnouncement(domain.Announcement) error
	GetAnnouncement(id string) (domain.Announcement, bool, error)
	ListAnnouncements() ([]domain.Announcement, error)
	CountAnnouncements() (int, error)

	// threads
	CreateThread(domain.Thread) error
	GetThread(id string) (domain.Thread, bool, error)
	ListThreadsByAnnouncement(announcementID string) ([]domain.Thread, error)
	ListThreads() ([]domain.Thread, error)

	// messages
	AppendMessage(domain.Message) error
	ListMessages(threadID string) ([]domain.Message, error)
	CountMessages(threadID string) (int, error)

	// polls
	UpsertPoll(domain.Poll) error
	PollCounts(threadID string) (domain.PollCounts, error)
	StudentsAtLevel(threadID string, level domain.Understanding) ([]string, error)
	CountDistinctVoters() (int, error)
}
