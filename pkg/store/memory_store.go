package store

import (
	"sort"
	"sync"

	"eduforum/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local dev
// without Postgres.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	userNames     map[string]string // name -> user ID
	userOrder     []string
	announcements map[string]domain.Announcement
	annOrder      []string
	threads       map[string]domain.Thread
	threadOrder   []string
	messages      map[string][]domain.Message            // thread ID -> ordered messages
	polls         map[string]map[string]domain.Poll      // thread ID -> student ID -> poll
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		userNames:     make(map[string]string),
		announcements: make(map[string]domain.Announcement),
		threads:       make(map[string]domain.Thread),
		messages:      make(map[string][]domain.Message),
		polls:         make(map[string]map[string]domain.Poll),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, exists := m.users[u.ID]; exists {
		delete(m.userNames, old.Name)
	} else {
		m.userOrder = append(m.userOrder, u.ID)
	}
	m.users[u.ID] = u
	m.userNames[u.Name] = u.ID
	return nil
}

func (m *MemoryStore) HasUserName(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.userNames[name]
	return ok, nil
}

func (m *MemoryStore) GetUserByName(name string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.userNames[name]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		if u, ok := m.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

func (m *MemoryStore) CountUsersByRole(role domain.Role) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, u := range m.users {
		if u.Role == role {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) SaveAnnouncement(a domain.Announcement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.announcements[a.ID]; !exists {
		m.annOrder = append(m.annOrder, a.ID)
	}
	m.announcements[a.ID] = a
	return nil
}

func (m *MemoryStore) GetAnnouncement(id string) (domain.Announcement, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.announcements[id]
	return a, ok, nil
}

func (m *MemoryStore) ListAnnouncements() ([]domain.Announcement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Announcement, 0, len(m.annOrder))
	for i := len(m.annOrder) - 1; i >= 0; i-- {
		if a, ok := m.announcements[m.annOrder[i]]; ok {
			res = append(res, a)
		}
	}
	return res, nil
}

func (m *MemoryStore) CountAnnouncements() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.announcements), nil
}

func (m *MemoryStore) CreateThread(t domain.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.threads[t.ID]; !exists {
		m.threadOrder = append(m.threadOrder, t.ID)
	}
	m.threads[t.ID] = t
	return nil
}

func (m *MemoryStore) GetThread(id string) (domain.Thread, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	return t, ok, nil
}

func (m *MemoryStore) ListThreadsByAnnouncement(announcementID string) ([]domain.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Thread, 0)
	for _, id := range m.threadOrder {
		if t, ok := m.threads[id]; ok && t.AnnouncementID == announcementID {
			res = append(res, t)
		}
	}
	return res, nil
}

// ListThreads returns all threads sorted by ID ascending, matching the
// deterministic iteration order the analytics engine documents.
func (m *MemoryStore) ListThreads() ([]domain.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Thread, 0, len(m.threads))
	for _, t := range m.threads {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.UserID != nil {
		if u, ok := m.users[*msg.UserID]; ok {
			msg.UserName = u.Name
			msg.UserRole = u.Role
		}
	}
	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], msg)
	return nil
}

func (m *MemoryStore) ListMessages(threadID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[threadID]
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	return res, nil
}

func (m *MemoryStore) CountMessages(threadID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[threadID]), nil
}

func (m *MemoryStore) UpsertPoll(p domain.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	votes, ok := m.polls[p.ThreadID]
	if !ok {
		votes = make(map[string]domain.Poll)
		m.polls[p.ThreadID] = votes
	}
	votes[p.StudentID] = p
	return nil
}

func (m *MemoryStore) PollCounts(threadID string) (domain.PollCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var counts domain.PollCounts
	for _, p := range m.polls[threadID] {
		switch p.Level {
		case domain.UnderstandingComplete:
			counts.Complete++
		case domain.UnderstandingPartial:
			counts.Partial++
		case domain.UnderstandingNone:
			counts.None++
		}
	}
	return counts, nil
}

func (m *MemoryStore) StudentsAtLevel(threadID string, level domain.Understanding) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for studentID, p := range m.polls[threadID] {
		if p.Level == level {
			ids = append(ids, studentID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) CountDistinctVoters() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	voters := make(map[string]struct{})
	for _, votes := range m.polls {
		for studentID := range votes {
			voters[studentID] = struct{}{}
		}
	}
	return len(voters), nil
}
