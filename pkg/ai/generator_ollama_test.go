package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaGeneratorCapsResponseLength(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "  hello  "})
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL, "llama3.2:1b")
	text, err := gen.Generate(context.Background(), "say hello")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "hello" {
		t.Fatalf("text = %q, want %q", text, "hello")
	}
	if got.Options.NumPredict != 1000 {
		t.Fatalf("num_predict = %d, want 1000", got.Options.NumPredict)
	}
	if got.Stream {
		t.Fatalf("stream should be false")
	}
}

func TestOllamaGeneratorTranslatesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ollamaErrorResponse{Error: "model not found"})
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL, "llama3.2:1b")
	if _, err := gen.Generate(context.Background(), "hi"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	srv.Close()
	if _, err := gen.Generate(context.Background(), "hi"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("connection failure should map to ErrUnavailable, got %v", err)
	}
}

func TestOllamaGeneratorRejectsEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "   "})
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL, "llama3.2:1b")
	if _, err := gen.Generate(context.Background(), "hi"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("empty payload should map to ErrUnavailable, got %v", err)
	}
}
