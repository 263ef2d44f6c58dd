package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/saleskit/ltc-backend/internal/domain"
)

func sseChunk(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", content)
}

func testClient(baseURL string, idle time.Duration) *Client {
	return NewClient(Options{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		MaxTokens:   128,
		Temperature: 0.2,
		IdleTimeout: idle,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseChunk("Hello"))
		io.WriteString(w, sseChunk(", "))
		io.WriteString(w, sseChunk("world"))
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := testClient(srv.URL, 0)

	var chunks []string
	full, err := client.Stream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "greet"}},
	}, func(delta string) error {
		chunks = append(chunks, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if full != "Hello, world" {
		t.Fatalf("expected accumulated text, got %q", full)
	}
	if len(chunks) != 3 || chunks[0] != "Hello" || chunks[2] != "world" {
		t.Fatalf("expected 3 ordered chunks, got %v", chunks)
	}
}

func TestStreamSkipsMalformedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseChunk("ok"))
		io.WriteString(w, "data: {not json}\n\n")
		io.WriteString(w, sseChunk(" fine"))
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := testClient(srv.URL, 0)

	full, err := client.Stream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "x"}},
	}, func(string) error { return nil })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if full != "ok fine" {
		t.Fatalf("expected malformed chunk skipped, got %q", full)
	}
}

func TestStreamNon200IsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := testClient(srv.URL, 0)

	_, err := client.Stream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "x"}},
	}, func(string) error { return nil })
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestStreamOnChunkErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		io.WriteString(w, sseChunk("one"))
		f.Flush()
		io.WriteString(w, sseChunk("two"))
		f.Flush()
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := testClient(srv.URL, 0)

	sentinel := errors.New("stop now")
	calls := 0
	partial, err := client.Stream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "x"}},
	}, func(string) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error propagated, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected abort after first chunk, got %d calls", calls)
	}
	if partial != "one" {
		t.Fatalf("expected partial text up to abort, got %q", partial)
	}
}

func TestStreamIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		io.WriteString(w, sseChunk("start"))
		f.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := testClient(srv.URL, 50*time.Millisecond)

	_, err := client.Stream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "x"}},
	}, func(string) error { return nil })
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider for idle stream, got %v", err)
	}
	if !strings.Contains(err.Error(), "idle") {
		t.Fatalf("expected idle timeout message, got %v", err)
	}
}

func TestStreamEmptyPromptRejected(t *testing.T) {
	client := testClient("http://unused", 0)

	_, err := client.Stream(context.Background(), ChatRequest{}, func(string) error { return nil })
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
