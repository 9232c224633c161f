package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"eduforum/pkg/domain"
)

const migrateLockID int64 = 84218421

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &AnnouncementModel{}, &ThreadModel{}, &MessageModel{}, &PollModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "role", "contact"}),
	}).Create(&model).Error
}

// HasUserName checks if a display name is taken.
func (s *GormStore) HasUserName(name string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByName looks up a user by display name.
func (s *GormStore) GetUserByName(name string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("name = ?", name).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// CountUsersByRole returns the number of users with the given role.
func (s *GormStore) CountUsersByRole(role domain.Role) (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("role = ?", string(role)).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveAnnouncement stores or updates an announcement.
func (s *GormStore) SaveAnnouncement(a domain.Announcement) error {
	model := announcementToModel(a)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "content", "extracted_text", "storage_key", "topics", "topics_derived"}),
	}).Create(&model).Error
}

// GetAnnouncement retrieves an announcement.
func (s *GormStore) GetAnnouncement(id string) (domain.Announcement, bool, error) {
	var model AnnouncementModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Announcement{}, false, nil
		}
		return domain.Announcement{}, false, err
	}
	return announcementFromModel(model), true, nil
}

// ListAnnouncements returns all announcements, newest first.
func (s *GormStore) ListAnnouncements() ([]domain.Announcement, error) {
	var models []AnnouncementModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Announcement, 0, len(models))
	for _, m := range models {
		res = append(res, announcementFromModel(m))
	}
	return res, nil
}

// CountAnnouncements returns the number of announcements.
func (s *GormStore) CountAnnouncements() (int, error) {
	var count int64
	if err := s.db.Model(&AnnouncementModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CreateThread records a new thread.
func (s *GormStore) CreateThread(t domain.Thread) error {
	model := threadToModel(t)
	return s.db.Create(&model).Error
}

// GetThread returns one thread by ID.
func (s *GormStore) GetThread(id string) (domain.Thread, bool, error) {
	var model ThreadModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Thread{}, false, nil
		}
		return domain.Thread{}, false, err
	}
	return threadFromModel(model), true, nil
}

// ListThreadsByAnnouncement returns an announcement's threads in creation order.
func (s *GormStore) ListThreadsByAnnouncement(announcementID string) ([]domain.Thread, error) {
	return s.listThreads("announcement_id = ?", announcementID)
}

// ListThreads returns all threads ordered by ID so that derived analytics
// iterate in a stable order.
func (s *GormStore) ListThreads() ([]domain.Thread, error) {
	var models []ThreadModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Thread, 0, len(models))
	for _, m := range models {
		res = append(res, threadFromModel(m))
	}
	return res, nil
}

func (s *GormStore) listThreads(conds ...any) ([]domain.Thread, error) {
	var models []ThreadModel
	tx := s.db.Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Thread, 0, len(models))
	for _, m := range models {
		res = append(res, threadFromModel(m))
	}
	return res, nil
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessages returns a thread's messages in ascending creation order with
// author display fields filled in.
func (s *GormStore) ListMessages(threadID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return s.fillAuthors(msgs)
}

// CountMessages returns the number of messages in a thread.
func (s *GormStore) CountMessages(threadID string) (int, error) {
	var count int64
	if err := s.db.Model(&MessageModel{}).Where("thread_id = ?", threadID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *GormStore) fillAuthors(msgs []domain.Message) ([]domain.Message, error) {
	ids := make([]string, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.UserID == nil {
			continue
		}
		if _, ok := seen[*m.UserID]; ok {
			continue
		}
		seen[*m.UserID] = struct{}{}
		ids = append(ids, *m.UserID)
	}
	if len(ids) == 0 {
		return msgs, nil
	}
	var users []UserModel
	if err := s.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]UserModel, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for i, m := range msgs {
		if m.UserID == nil {
			continue
		}
		if u, ok := byID[*m.UserID]; ok {
			msgs[i].UserName = u.Name
			msgs[i].UserRole = domain.Role(u.Role)
		}
	}
	return msgs, nil
}

// UpsertPoll inserts or overwrites a student's vote. Last write wins.
func (s *GormStore) UpsertPoll(p domain.Poll) error {
	model := PollModel{
		ThreadID:  p.ThreadID,
		StudentID: p.StudentID,
		Level:     string(p.Level),
		UpdatedAt: p.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}, {Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"level", "updated_at"}),
	}).Create(&model).Error
}

// PollCounts returns distinct-student vote counts per level for one thread.
func (s *GormStore) PollCounts(threadID string) (domain.PollCounts, error) {
	type levelCount struct {
		Level string
		Count int64
	}
	var rows []levelCount
	if err := s.db.Model(&PollModel{}).
		Select("level, COUNT(DISTINCT student_id) AS count").
		Where("thread_id = ?", threadID).
		Group("level").
		Scan(&rows).Error; err != nil {
		return domain.PollCounts{}, err
	}
	var counts domain.PollCounts
	for _, row := range rows {
		switch domain.Understanding(row.Level) {
		case domain.UnderstandingComplete:
			counts.Complete = int(row.Count)
		case domain.UnderstandingPartial:
			counts.Partial = int(row.Count)
		case domain.UnderstandingNone:
			counts.None = int(row.Count)
		}
	}
	return counts, nil
}

// StudentsAtLevel returns the IDs of students who voted the given level.
func (s *GormStore) StudentsAtLevel(threadID string, level domain.Understanding) ([]string, error) {
	var ids []string
	if err := s.db.Model(&PollModel{}).
		Where("thread_id = ? AND level = ?", threadID, string(level)).
		Order("student_id ASC").
		Pluck("student_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// CountDistinctVoters returns the number of students that voted on any thread.
func (s *GormStore) CountDistinctVoters() (int, error) {
	var count int64
	if err := s.db.Model(&PollModel{}).
		Distinct("student_id").
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Name:      u.Name,
		Role:      string(u.Role),
		Contact:   u.Contact,
		CreatedAt: u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Name:      m.Name,
		Role:      domain.Role(m.Role),
		Contact:   m.Contact,
		CreatedAt: m.CreatedAt,
	}
}

func announcementToModel(a domain.Announcement) AnnouncementModel {
	topics, _ := json.Marshal(a.Topics)
	return AnnouncementModel{
		ID:            a.ID,
		AuthorID:      a.AuthorID,
		Title:         a.Title,
		Content:       a.Content,
		ExtractedText: a.ExtractedText,
		StorageKey:    a.StorageKey,
		Topics:        topics,
		TopicsDerived: a.TopicsDerived,
		CreatedAt:     a.CreatedAt,
	}
}

func announcementFromModel(m AnnouncementModel) domain.Announcement {
	var topics []string
	if len(m.Topics) > 0 {
		_ = json.Unmarshal(m.Topics, &topics)
	}
	return domain.Announcement{
		ID:            m.ID,
		AuthorID:      m.AuthorID,
		Title:         m.Title,
		Content:       m.Content,
		ExtractedText: m.ExtractedText,
		StorageKey:    m.StorageKey,
		Topics:        topics,
		TopicsDerived: m.TopicsDerived,
		CreatedAt:     m.CreatedAt,
	}
}

func threadToModel(t domain.Thread) ThreadModel {
	return ThreadModel{
		ID:             t.ID,
		AnnouncementID: t.AnnouncementID,
		Title:          t.Title,
		Topic:          t.Topic,
		CreatedAt:      t.CreatedAt,
	}
}

func threadFromModel(m ThreadModel) domain.Thread {
	return domain.Thread{
		ID:             m.ID,
		AnnouncementID: m.AnnouncementID,
		Title:          m.Title,
		Topic:          m.Topic,
		CreatedAt:      m.CreatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:         msg.ID,
		ThreadID:   msg.ThreadID,
		UserID:     msg.UserID,
		SenderKind: string(msg.SenderKind),
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:         m.ID,
		ThreadID:   m.ThreadID,
		UserID:     m.UserID,
		SenderKind: domain.SenderKind(m.SenderKind),
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}
