// Package server exposes the forum HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"eduforum/internal/app"
	"eduforum/internal/ratelimit"
	"eduforum/internal/util"
	"eduforum/pkg/ai"
	"eduforum/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	RedisAddr      string
	RedisPassword  string
	AuthLimit      int
	MessageLimit   int
	MaxUploadBytes int64
	TrustedProxies []string
}

// Server exposes HTTP endpoints for the discussion forum.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	trusted        *util.TrustedProxies
	authLimiter    *ratelimit.FixedWindowLimiter
	messageLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Without a Redis address
// the rate limiters are disabled.
func New(cfg Config) (*Server, error) {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		trusted:        trusted,
	}
	if cfg.RedisAddr != "" {
		authLimit := cfg.AuthLimit
		if authLimit <= 0 {
			authLimit = 30
		}
		messageLimit := cfg.MessageLimit
		if messageLimit <= 0 {
			messageLimit = 15
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "eduforum:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		if s.authLimiter, err = newLimiter("auth", authLimit); err != nil {
			return nil, err
		}
		if s.messageLimiter, err = newLimiter("message", messageLimit); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("forum", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/users/", s.handleUserByName)

	s.mux.HandleFunc("/api/announcements", s.handleAnnouncements)
	s.mux.HandleFunc("/api/announcements/", s.handleAnnouncementSubpath)

	s.mux.HandleFunc("/api/threads/", s.handleThreadSubpath)

	s.mux.HandleFunc("/api/analytics", s.handleAnalytics)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signupRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.authLimiter, "too many signup attempts, try again later") {
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Signup(req.Name, req.Contact)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.authLimiter, "too many login attempts, try again later") {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Login(req.Name)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// /api/auth/users/{name}
func (s *Server) handleUserByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/auth/users/")
	if name == "" || strings.Contains(name, "/") {
		notFound(w, "not found")
		return
	}
	user, err := s.app.GetUserByName(name)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateAnnouncement(w, r)
	case http.MethodGet:
		s.handleListAnnouncements(w)
	default:
		methodNotAllowed(w)
	}
}

type createAnnouncementRequest struct {
	AuthorID string `json:"authorId"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

type announcementResponse struct {
	Announcement domain.Announcement `json:"announcement"`
	Threads      []domain.Thread     `json:"threads"`
}

// handleCreateAnnouncement accepts either a JSON body (free-text material) or
// a multipart form with a PDF file. Topic extraction and thread bootstrap run
// inline before the response.
func (s *Server) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.handleUploadAnnouncement(w, r)
		return
	}
	var req createAnnouncementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ann, threads, err := s.app.CreateAnnouncement(r.Context(), req.AuthorID, req.Title, req.Content)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, announcementResponse{Announcement: ann, Threads: threads})
}

func (s *Server) handleUploadAnnouncement(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	ann, threads, err := s.app.UploadAnnouncementPDF(r.Context(), r.FormValue("authorId"), r.FormValue("title"), header.Filename, file, header.Size)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, announcementResponse{Announcement: ann, Threads: threads})
}

func (s *Server) handleListAnnouncements(w http.ResponseWriter) {
	items, err := s.app.ListAnnouncements()
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// /api/announcements/{id}/threads or /api/announcements/{id}/file
func (s *Server) handleAnnouncementSubpath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/announcements/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := parts[0]
	switch parts[1] {
	case "threads":
		threads, err := s.app.ListThreads(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": threads,
			"count": len(threads),
		})
	case "file":
		url, err := s.app.AnnouncementFileURL(r.Context(), id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	default:
		notFound(w, "not found")
	}
}

// /api/threads/{id}/messages, /api/threads/{id}/summary, /api/threads/{id}/poll
func (s *Server) handleThreadSubpath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/threads/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		notFound(w, "not found")
		return
	}
	id := parts[0]
	switch parts[1] {
	case "messages":
		s.handleThreadMessages(w, r, id)
	case "summary":
		s.handleThreadSummary(w, r, id)
	case "poll":
		s.handleThreadPoll(w, r, id)
	default:
		notFound(w, "not found")
	}
}

type postMessageRequest struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request, threadID string) {
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.app.ListMessages(threadID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": msgs,
			"count": len(msgs),
		})
	case http.MethodPost:
		// Posting may trigger an upstream LLM call, so it gets its own limit.
		if !s.allowRate(w, r, s.messageLimiter, "too many messages, slow down") {
			return
		}
		var req postMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		res, err := s.app.PostMessage(r.Context(), threadID, req.UserID, req.Content)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleThreadSummary(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	summary, err := s.app.SummarizeThread(r.Context(), threadID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

type pollRequest struct {
	StudentID string `json:"studentId"`
	Level     string `json:"level"`
}

func (s *Server) handleThreadPoll(w http.ResponseWriter, r *http.Request, threadID string) {
	switch r.Method {
	case http.MethodPut:
		var req pollRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.app.SubmitPoll(threadID, req.StudentID, domain.Understanding(req.Level)); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	case http.MethodGet:
		counts, err := s.app.PollCounts(threadID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	snap, err := s.app.Analytics(r.Context())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

// writeAppError maps domain errors onto HTTP statuses.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, app.ErrThreadNotFound),
		errors.Is(err, app.ErrAnnouncementNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ai.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "generation backend unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}
