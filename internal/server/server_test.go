package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"eduforum/internal/app"
	"eduforum/pkg/ai"
	"eduforum/pkg/store"
)

type scriptedGenerator struct {
	responses []string
	err       error
}

func (s *scriptedGenerator) Generate(context.Context, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", ai.ErrUnavailable
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func newTestServer(t *testing.T, gen ai.TextGenerator, cfg Config) *httptest.Server {
	t.Helper()
	a, err := app.New(app.Config{
		Store:           store.NewMemoryStore(),
		Generator:       gen,
		SeedTeacherName: "Teacher",
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	cfg.App = a
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func signup(t *testing.T, base, name string) string {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, base+"/api/auth/signup", map[string]string{"name": name})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %q: status %d (%v)", name, resp.StatusCode, payload)
	}
	return payload["id"].(string)
}

func loginID(t *testing.T, base, name string) string {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, base+"/api/auth/login", map[string]string{"name": name})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %q: status %d", name, resp.StatusCode)
	}
	return payload["id"].(string)
}

func createAnnouncement(t *testing.T, base, authorID string) []any {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, base+"/api/announcements", map[string]string{
		"authorId": authorID,
		"title":    "Week 1",
		"content":  "Networking fundamentals covering transport protocols and routing.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create announcement: status %d (%v)", resp.StatusCode, payload)
	}
	return payload["threads"].([]any)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{}, Config{})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSignupAndLogin(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{}, Config{})

	signup(t, ts.URL, "alice")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", map[string]string{"name": "alice"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate signup status = %d, want 409", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", map[string]string{"name": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("short name status = %d, want 400", resp.StatusCode)
	}

	if id := loginID(t, ts.URL, "alice"); id == "" {
		t.Errorf("login returned empty id")
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", map[string]string{"name": "nobody"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown login status = %d, want 404", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/api/auth/users/alice")
	if err != nil {
		t.Fatal(err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Errorf("get user status = %d", getResp.StatusCode)
	}
}

func TestAnnouncementLifecycle(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"1. TCP vs UDP\n2. OSI Model\n3. Routing"}}
	ts := newTestServer(t, gen, Config{})
	teacher := loginID(t, ts.URL, "Teacher")

	threads := createAnnouncement(t, ts.URL, teacher)
	if len(threads) != 3 {
		t.Fatalf("got %d threads, want 3", len(threads))
	}

	// student cannot publish
	student := signup(t, ts.URL, "alice")
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/announcements", map[string]string{
		"authorId": student, "title": "t", "content": "c",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("student announcement status = %d, want 403", resp.StatusCode)
	}

	listResp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/announcements", nil)
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", listResp.StatusCode)
	}
	items := payload["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("got %d announcements", len(items))
	}
	if tc := items[0].(map[string]any)["threadCount"].(float64); tc != 3 {
		t.Errorf("threadCount = %v, want 3", tc)
	}

	annID := items[0].(map[string]any)["id"].(string)
	thResp, thPayload := doJSON(t, http.MethodGet, ts.URL+"/api/announcements/"+annID+"/threads", nil)
	if thResp.StatusCode != http.StatusOK || len(thPayload["items"].([]any)) != 3 {
		t.Errorf("threads listing wrong: status %d, payload %v", thResp.StatusCode, thPayload)
	}
}

func TestPostMessageRoute(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"1. TCP vs UDP\n2. OSI Model",
		"TCP gives you ordering and delivery guarantees; UDP does not.",
	}}
	ts := newTestServer(t, gen, Config{})
	teacher := loginID(t, ts.URL, "Teacher")
	threads := createAnnouncement(t, ts.URL, teacher)
	threadID := threads[0].(map[string]any)["id"].(string)
	student := signup(t, ts.URL, "alice")

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/threads/"+threadID+"/messages", map[string]string{
		"userId": student, "content": "@AI what does TCP guarantee?",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post status = %d (%v)", resp.StatusCode, payload)
	}
	if payload["aiResponded"] != true {
		t.Errorf("aiResponded = %v", payload["aiResponded"])
	}

	listResp, listPayload := doJSON(t, http.MethodGet, ts.URL+"/api/threads/"+threadID+"/messages", nil)
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", listResp.StatusCode)
	}
	msgs := listPayload["items"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	last := msgs[1].(map[string]any)
	if last["senderKind"] != "ai" {
		t.Errorf("last sender = %v, want ai", last["senderKind"])
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/threads/missing/messages", map[string]string{
		"userId": student, "content": "hello",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing thread status = %d, want 404", resp.StatusCode)
	}
}

func TestPollRoute(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"1. Topic One\n2. Topic Two"}}
	ts := newTestServer(t, gen, Config{})
	teacher := loginID(t, ts.URL, "Teacher")
	threads := createAnnouncement(t, ts.URL, teacher)
	threadID := threads[0].(map[string]any)["id"].(string)
	student := signup(t, ts.URL, "alice")

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/threads/"+threadID+"/poll", map[string]string{
		"studentId": student, "level": "kinda",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid level status = %d, want 400", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/threads/"+threadID+"/poll", map[string]string{
		"studentId": teacher, "level": "complete",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("teacher vote status = %d, want 403", resp.StatusCode)
	}

	for _, level := range []string{"none", "complete"} {
		resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/threads/"+threadID+"/poll", map[string]string{
			"studentId": student, "level": level,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("vote %q status = %d", level, resp.StatusCode)
		}
	}
	resp, counts := doJSON(t, http.MethodGet, ts.URL+"/api/threads/"+threadID+"/poll", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("counts status = %d", resp.StatusCode)
	}
	if counts["complete"].(float64) != 1 || counts["none"].(float64) != 0 {
		t.Errorf("counts = %v, want overwritten single complete vote", counts)
	}
}

func TestAnalyticsRoute(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"1. Topic One\n2. Topic Two"}}
	ts := newTestServer(t, gen, Config{})
	teacher := loginID(t, ts.URL, "Teacher")
	threads := createAnnouncement(t, ts.URL, teacher)
	threadID := threads[0].(map[string]any)["id"].(string)
	student := signup(t, ts.URL, "alice")
	if resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/threads/"+threadID+"/poll", map[string]string{
		"studentId": student, "level": "complete",
	}); resp.StatusCode != http.StatusOK {
		t.Fatal("vote failed")
	}

	resp, snap := doJSON(t, http.MethodGet, ts.URL+"/api/analytics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analytics status = %d", resp.StatusCode)
	}
	if snap["total_students"].(float64) != 1 {
		t.Errorf("total_students = %v", snap["total_students"])
	}
	if snap["total_threads"].(float64) != 2 {
		t.Errorf("total_threads = %v", snap["total_threads"])
	}
	topics := snap["topics"].([]any)
	if len(topics) != 2 {
		t.Fatalf("topics = %v", topics)
	}
	var voted map[string]any
	for _, raw := range topics {
		topic := raw.(map[string]any)
		if topic["total_votes"].(float64) == 1 {
			voted = topic
		}
	}
	if voted == nil || voted["clarity_score"].(float64) != 100 {
		t.Errorf("voted topic = %v, want clarity 100", voted)
	}
}

func TestSignupRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	ts := newTestServer(t, &scriptedGenerator{}, Config{
		RedisAddr: mr.Addr(),
		AuthLimit: 2,
	})

	for i := 0; i < 2; i++ {
		signup(t, ts.URL, fmt.Sprintf("student%d", i))
	}
	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", map[string]string{"name": "another"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if !strings.Contains(payload["error"].(string), "too many") {
		t.Errorf("error = %v", payload["error"])
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
}

func TestUnknownSubpath(t *testing.T) {
	ts := newTestServer(t, &scriptedGenerator{}, Config{})
	resp, err := http.Get(ts.URL + "/api/threads/abc/unknown")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
