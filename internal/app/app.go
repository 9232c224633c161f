package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"eduforum/internal/analytics"
	"eduforum/internal/mention"
	"eduforum/internal/pdftext"
	"eduforum/internal/prompt"
	"eduforum/internal/topics"
	"eduforum/internal/util"
	"eduforum/pkg/ai"
	"eduforum/pkg/domain"
	"eduforum/pkg/storage"
	"eduforum/pkg/store"
)

// minExtractedChars rejects PDF uploads whose text extraction is effectively
// empty (scanned images, encrypted files).
const minExtractedChars = 100

// minUsefulAnswerChars treats shorter generation output as a failed answer.
const minUsefulAnswerChars = 10

const (
	unavailableAnswer  = "I'm sorry, I couldn't generate an answer right now because the AI backend is unavailable. Please try again in a moment."
	emptyAnswer        = "I had trouble generating a helpful answer to that. Please try rephrasing your question."
	emptySummary       = "No messages to summarize yet."
	unavailableSummary = "A summary isn't available right now because the AI backend is unavailable. Please try again in a moment."
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	Objects        storage.ObjectStore

	Generator       ai.TextGenerator
	GenerateTimeout time.Duration

	MentionTriggers  []string
	PromptLimits     prompt.Limits
	ExtractTextChars int
	HistoryFetch     int

	SeedTeacherName string
}

// App is the core application service wiring together storage, the
// generation gateway, and the forum domain logic.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	generator     ai.TextGenerator
	gate          *mention.Gate
	composer      *prompt.Composer
	extractor     *topics.Extractor
	engine        *analytics.Engine
	historyFetch  int
	genTimeout    time.Duration
	presignExpiry time.Duration
}

// PostResult reports what a posted message produced. AIMessageID is empty
// when AIResponded is false.
type PostResult struct {
	UserMessageID string `json:"userMessageId"`
	AIMessageID   string `json:"aiMessageId,omitempty"`
	AIResponded   bool   `json:"aiResponded"`
}

// AnnouncementSummary is an announcement with its thread count, for listing.
type AnnouncementSummary struct {
	domain.Announcement
	ThreadCount int `json:"threadCount"`
}

// New constructs the application. The object store is optional: without a
// MinIO endpoint announcements keep no file reference.
func New(cfg Config) (*App, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator required")
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objStore := cfg.Objects
	if objStore == nil && cfg.MinioEndpoint != "" {
		var err error
		objStore, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
	}
	if cfg.GenerateTimeout == 0 {
		cfg.GenerateTimeout = 120 * time.Second
	}
	if cfg.HistoryFetch == 0 {
		cfg.HistoryFetch = 10
	}
	triggers := cfg.MentionTriggers
	if len(triggers) == 0 {
		triggers = mention.DefaultTriggers
	}

	a := &App{
		store:         dataStore,
		objects:       objStore,
		generator:     cfg.Generator,
		gate:          mention.NewGate(triggers),
		composer:      prompt.NewComposer(cfg.PromptLimits),
		extractor:     topics.NewExtractor(cfg.Generator, cfg.ExtractTextChars),
		engine:        analytics.NewEngine(dataStore),
		historyFetch:  cfg.HistoryFetch,
		genTimeout:    cfg.GenerateTimeout,
		presignExpiry: 15 * time.Minute,
	}
	if cfg.SeedTeacherName != "" {
		if err := a.seedTeacher(cfg.SeedTeacherName); err != nil {
			return nil, fmt.Errorf("seed teacher account: %w", err)
		}
	}
	return a, nil
}

// seedTeacher creates the default teacher account once.
func (a *App) seedTeacher(name string) error {
	exists, err := a.store.HasUserName(name)
	if err != nil || exists {
		return err
	}
	return a.store.SaveUser(domain.User{
		ID:        util.NewID(),
		Name:      name,
		Role:      domain.RoleTeacher,
		CreatedAt: time.Now().UTC(),
	})
}

// Signup registers a student account. Teacher accounts are seeded, never
// self-registered.
func (a *App) Signup(name, contact string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < 2 {
		return domain.User{}, fmt.Errorf("%w: name must be at least 2 characters", ErrInvalidInput)
	}
	exists, err := a.store.HasUserName(name)
	if err != nil {
		return domain.User{}, fmt.Errorf("check name: %w", err)
	}
	if exists {
		return domain.User{}, ErrNameTaken
	}
	user := domain.User{
		ID:        util.NewID(),
		Name:      name,
		Role:      domain.RoleStudent,
		Contact:   strings.TrimSpace(contact),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// Login looks up an account by name.
func (a *App) Login(name string) (domain.User, error) {
	return a.GetUserByName(strings.TrimSpace(name))
}

func (a *App) GetUserByName(name string) (domain.User, error) {
	user, ok, err := a.store.GetUserByName(name)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

func (a *App) ListUsers() ([]domain.User, error) {
	return a.store.ListUsers()
}

// CreateAnnouncement publishes free-text course material, derives its topics,
// and bootstraps one discussion thread per topic.
func (a *App) CreateAnnouncement(ctx context.Context, authorID, title, content string) (domain.Announcement, []domain.Thread, error) {
	author, err := a.requireTeacher(authorID)
	if err != nil {
		return domain.Announcement{}, nil, err
	}
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" || content == "" {
		return domain.Announcement{}, nil, fmt.Errorf("%w: title and content required", ErrInvalidInput)
	}
	ann := domain.Announcement{
		ID:        util.NewID(),
		AuthorID:  author.ID,
		Title:     title,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	return a.publishAnnouncement(ctx, ann)
}

// UploadAnnouncementPDF publishes course material from an uploaded PDF. The
// file is staged to disk for extraction, then stored if an object store is
// configured.
func (a *App) UploadAnnouncementPDF(ctx context.Context, authorID, title, filename string, r io.Reader, size int64) (domain.Announcement, []domain.Thread, error) {
	author, err := a.requireTeacher(authorID)
	if err != nil {
		return domain.Announcement{}, nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Announcement{}, nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return domain.Announcement{}, nil, fmt.Errorf("%w: only PDF uploads are supported", ErrInvalidInput)
	}

	tmp, err := os.CreateTemp("", "eduforum-upload-*.pdf")
	if err != nil {
		return domain.Announcement{}, nil, fmt.Errorf("stage upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return domain.Announcement{}, nil, fmt.Errorf("stage upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.Announcement{}, nil, fmt.Errorf("stage upload: %w", err)
	}

	text, err := pdftext.Extract(tmp.Name())
	if err != nil {
		return domain.Announcement{}, nil, fmt.Errorf("%w: could not extract text from PDF: %v", ErrInvalidInput, err)
	}
	if len(text) < minExtractedChars {
		return domain.Announcement{}, nil, fmt.Errorf("%w: PDF contains no readable text", ErrInvalidInput)
	}

	id := util.NewID()
	ann := domain.Announcement{
		ID:            id,
		AuthorID:      author.ID,
		Title:         title,
		ExtractedText: text,
		CreatedAt:     time.Now().UTC(),
	}
	if a.objects != nil {
		key := path.Join("announcements", id, filepath.Base(filename))
		f, err := os.Open(tmp.Name())
		if err != nil {
			return domain.Announcement{}, nil, fmt.Errorf("stage upload: %w", err)
		}
		err = a.objects.Put(ctx, key, f, size, "application/pdf")
		f.Close()
		if err != nil {
			return domain.Announcement{}, nil, fmt.Errorf("store file: %w", err)
		}
		ann.StorageKey = key
	}
	return a.publishAnnouncement(ctx, ann)
}

// publishAnnouncement saves the announcement, derives topics from its
// material, and creates the per-topic threads. Topic derivation never fails;
// a gateway outage yields the generic fallback set.
func (a *App) publishAnnouncement(ctx context.Context, ann domain.Announcement) (domain.Announcement, []domain.Thread, error) {
	if err := a.store.SaveAnnouncement(ann); err != nil {
		return domain.Announcement{}, nil, fmt.Errorf("save announcement: %w", err)
	}
	topicList := a.extractor.Extract(ctx, ann.Material())
	threads := make([]domain.Thread, 0, len(topicList))
	for _, topic := range topicList {
		th := domain.Thread{
			ID:             util.NewID(),
			AnnouncementID: ann.ID,
			Title:          "Discussion: " + topic,
			Topic:          topic,
			CreatedAt:      time.Now().UTC(),
		}
		if err := a.store.CreateThread(th); err != nil {
			return domain.Announcement{}, nil, fmt.Errorf("create thread: %w", err)
		}
		threads = append(threads, th)
	}
	ann.Topics = topicList
	ann.TopicsDerived = true
	if err := a.store.SaveAnnouncement(ann); err != nil {
		return domain.Announcement{}, nil, fmt.Errorf("save announcement topics: %w", err)
	}
	return ann, threads, nil
}

// ListAnnouncements returns announcements with their thread counts.
func (a *App) ListAnnouncements() ([]AnnouncementSummary, error) {
	anns, err := a.store.ListAnnouncements()
	if err != nil {
		return nil, err
	}
	res := make([]AnnouncementSummary, 0, len(anns))
	for _, ann := range anns {
		threads, err := a.store.ListThreadsByAnnouncement(ann.ID)
		if err != nil {
			return nil, err
		}
		res = append(res, AnnouncementSummary{Announcement: ann, ThreadCount: len(threads)})
	}
	return res, nil
}

func (a *App) GetAnnouncement(id string) (domain.Announcement, error) {
	ann, ok, err := a.store.GetAnnouncement(id)
	if err != nil {
		return domain.Announcement{}, fmt.Errorf("fetch announcement: %w", err)
	}
	if !ok {
		return domain.Announcement{}, ErrAnnouncementNotFound
	}
	return ann, nil
}

// AnnouncementFileURL returns a presigned download URL for the original PDF.
func (a *App) AnnouncementFileURL(ctx context.Context, id string) (string, error) {
	ann, err := a.GetAnnouncement(id)
	if err != nil {
		return "", err
	}
	if a.objects == nil || ann.StorageKey == "" {
		return "", fmt.Errorf("%w: announcement has no stored file", ErrInvalidInput)
	}
	return a.objects.PresignGet(ctx, ann.StorageKey, a.presignExpiry)
}

func (a *App) ListThreads(announcementID string) ([]domain.Thread, error) {
	if _, err := a.GetAnnouncement(announcementID); err != nil {
		return nil, err
	}
	return a.store.ListThreadsByAnnouncement(announcementID)
}

func (a *App) ListMessages(threadID string) ([]domain.Message, error) {
	if _, err := a.getThread(threadID); err != nil {
		return nil, err
	}
	return a.store.ListMessages(threadID)
}

// PostMessage appends the author's message and, when the AI is mentioned,
// generates and appends a reply. The author's message is committed before any
// AI work and is never rolled back by a downstream failure.
func (a *App) PostMessage(ctx context.Context, threadID, userID, content string) (PostResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return PostResult{}, fmt.Errorf("%w: message content required", ErrInvalidInput)
	}
	thread, err := a.getThread(threadID)
	if err != nil {
		return PostResult{}, err
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return PostResult{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return PostResult{}, ErrUserNotFound
	}

	userMsg := domain.Message{
		ID:         util.NewID(),
		ThreadID:   threadID,
		UserID:     &user.ID,
		SenderKind: domain.SenderForRole(user.Role),
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.AppendMessage(userMsg); err != nil {
		return PostResult{}, fmt.Errorf("save message: %w", err)
	}
	res := PostResult{UserMessageID: userMsg.ID}

	if !a.gate.ShouldRespond(content) {
		return res, nil
	}

	// A mention with no backing material cannot be answered.
	ann, ok, err := a.store.GetAnnouncement(thread.AnnouncementID)
	if err != nil {
		return res, fmt.Errorf("fetch announcement: %w", err)
	}
	if !ok || ann.Material() == "" {
		return res, ErrAnnouncementNotFound
	}

	question := a.gate.Strip(content)
	history, err := a.recentHistory(threadID, userMsg.ID)
	if err != nil {
		return res, fmt.Errorf("fetch history: %w", err)
	}

	p := a.composer.ComposeAnswer(user.Role, thread.Topic, ann.Material(), question, history, user.Name)
	answer := a.generateAnswer(ctx, p)

	aiMsg := domain.Message{
		ID:         util.NewID(),
		ThreadID:   threadID,
		SenderKind: domain.SenderAI,
		Content:    answer,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.AppendMessage(aiMsg); err != nil {
		return res, fmt.Errorf("save ai message: %w", err)
	}
	res.AIMessageID = aiMsg.ID
	res.AIResponded = true
	return res, nil
}

// generateAnswer calls the gateway under the configured timeout. Failures
// become templated fallback content so the AI turn is never silently dropped.
func (a *App) generateAnswer(ctx context.Context, p string) string {
	ctx, cancel := context.WithTimeout(ctx, a.genTimeout)
	defer cancel()
	answer, err := a.generator.Generate(ctx, p)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("answer generation failed", "error", err)
		return unavailableAnswer
	}
	if len(strings.TrimSpace(answer)) < minUsefulAnswerChars {
		return emptyAnswer
	}
	return strings.TrimSpace(answer)
}

// recentHistory returns the last messages of a thread, excluding the one just
// posted, windowed to the configured fetch depth.
func (a *App) recentHistory(threadID, excludeID string) ([]domain.Message, error) {
	msgs, err := a.store.ListMessages(threadID)
	if err != nil {
		return nil, err
	}
	history := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != excludeID {
			history = append(history, m)
		}
	}
	if len(history) > a.historyFetch {
		history = history[len(history)-a.historyFetch:]
	}
	return history, nil
}

// SummarizeThread produces a short AI summary of the discussion so far.
func (a *App) SummarizeThread(ctx context.Context, threadID string) (string, error) {
	if _, err := a.getThread(threadID); err != nil {
		return "", err
	}
	msgs, err := a.store.ListMessages(threadID)
	if err != nil {
		return "", fmt.Errorf("fetch messages: %w", err)
	}
	if len(msgs) == 0 {
		return emptySummary, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.genTimeout)
	defer cancel()
	summary, err := a.generator.Generate(ctx, a.composer.ComposeSummary(msgs))
	if err != nil {
		util.LoggerFromContext(ctx).Warn("summary generation failed", "error", err)
		return unavailableSummary, nil
	}
	return strings.TrimSpace(summary), nil
}

// SubmitPoll records a student's understanding vote. Re-votes overwrite.
func (a *App) SubmitPoll(threadID, studentID string, level domain.Understanding) error {
	if !level.Valid() {
		return fmt.Errorf("%w: understanding level must be one of complete, partial, none", ErrInvalidInput)
	}
	if _, err := a.getThread(threadID); err != nil {
		return err
	}
	user, ok, err := a.store.GetUserByID(studentID)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	if user.Role != domain.RoleStudent {
		return ErrForbidden
	}
	return a.store.UpsertPoll(domain.Poll{
		ThreadID:  threadID,
		StudentID: user.ID,
		Level:     level,
		UpdatedAt: time.Now().UTC(),
	})
}

func (a *App) PollCounts(threadID string) (domain.PollCounts, error) {
	if _, err := a.getThread(threadID); err != nil {
		return domain.PollCounts{}, err
	}
	return a.store.PollCounts(threadID)
}

// Analytics recomputes the full engagement snapshot.
func (a *App) Analytics(ctx context.Context) (analytics.Snapshot, error) {
	return a.engine.Snapshot(ctx)
}

func (a *App) getThread(id string) (domain.Thread, error) {
	thread, ok, err := a.store.GetThread(id)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("fetch thread: %w", err)
	}
	if !ok {
		return domain.Thread{}, ErrThreadNotFound
	}
	return thread, nil
}

// requireTeacher fetches the user and checks the teacher role.
func (a *App) requireTeacher(userID string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if user.Role != domain.RoleTeacher {
		return domain.User{}, ErrForbidden
	}
	return user, nil
}
