package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func sseHandler(chunks []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func collect(t *testing.T, chunks <-chan string, errs <-chan error) (string, error) {
	t.Helper()
	var acc string
	for c := range chunks {
		acc += c
	}
	select {
	case err := <-errs:
		return acc, err
	case <-time.After(5 * time.Second):
		t.Fatal("error channel never closed")
		return acc, nil
	}
}

func TestStreamCompletion_MissingAPIKey(t *testing.T) {
	p := NewOpenAIProvider("http://localhost:0/v1")

	_, _, err := p.StreamCompletion(context.Background(), Request{APIKey: "  "})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestStreamCompletion_DeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		sseHandler([]string{"Hel", "lo ", "world"})(w, r)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL + "/v1")
	chunks, errs, err := p.StreamCompletion(context.Background(), Request{
		APIKey:   "test-key",
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	acc, streamErr := collect(t, chunks, errs)
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}
	if acc != "Hello world" {
		t.Fatalf("expected %q, got %q", "Hello world", acc)
	}
}

func TestStreamCompletion_RetriesBeforeFirstChunk(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
			return
		}
		sseHandler([]string{"ok"})(w, r)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL + "/v1")
	chunks, errs, err := p.StreamCompletion(context.Background(), Request{
		APIKey:        "test-key",
		Messages:      []Message{{Role: "user", Content: "Hello"}},
		RetryCount:    3,
		RetryInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	acc, streamErr := collect(t, chunks, errs)
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}
	if acc != "ok" {
		t.Fatalf("expected %q, got %q", "ok", acc)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestStreamCompletion_ExhaustedRetriesReportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL + "/v1")
	chunks, errs, err := p.StreamCompletion(context.Background(), Request{
		APIKey:        "test-key",
		Messages:      []Message{{Role: "user", Content: "Hello"}},
		RetryCount:    1,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	acc, streamErr := collect(t, chunks, errs)
	if streamErr == nil {
		t.Fatal("expected a terminal error")
	}
	if acc != "" {
		t.Fatalf("expected no chunks, got %q", acc)
	}
}

func TestStreamCompletion_ReadTimeoutMidStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		flusher.Flush()
		<-release
	}))
	defer srv.Close()

	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	p := NewOpenAIProvider(srv.URL + "/v1")
	baseline := runtime.NumGoroutine()

	chunks, errs, err := p.StreamCompletion(context.Background(), Request{
		APIKey:      "test-key",
		Messages:    []Message{{Role: "user", Content: "Hello"}},
		ReadTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	acc, streamErr := collect(t, chunks, errs)
	if acc != "Hel" {
		t.Fatalf("expected the delivered prefix %q, got %q", "Hel", acc)
	}
	if streamErr == nil || !strings.Contains(streamErr.Error(), "timed out") {
		t.Fatalf("expected a read timeout error, got %v", streamErr)
	}

	// The stream reader must not stay blocked once the call returns.
	unblock()
	deadline := time.Now().Add(3 * time.Second)
	for runtime.NumGoroutine() > baseline && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := runtime.NumGoroutine(); n > baseline {
		t.Fatalf("goroutines leaked after timeout: baseline %d, now %d", baseline, n)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	p := NewOpenAIProvider("")
	reg.Register(" OpenAI ", p)

	got, err := reg.Get("openai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != Provider(p) {
		t.Fatal("registry returned a different provider")
	}

	if _, err := reg.Get("unknown"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
