package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate_FetchesBytes(t *testing.T) {
	want := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"created":1,"data":[{"url":%q}]}`, srv.URL+"/blob")
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		w.Write(want)
	})

	g := NewGenerator(srv.URL + "/v1")
	got, err := g.Generate(context.Background(), "test-key", "a red cube")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("bytes mismatch: got %v", got)
	}
}

func TestGenerate_GenerationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad prompt"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL + "/v1")
	if _, err := g.Generate(context.Background(), "test-key", "x"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestGenerate_FetchFailure(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"created":1,"data":[{"url":%q}]}`, srv.URL+"/gone")
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	g := NewGenerator(srv.URL + "/v1")
	if _, err := g.Generate(context.Background(), "test-key", "x"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestSanitizePrompt(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"a red cube", "a_red_cube"},
		{"Hello, World!", "hello__world_"},
		{"MiXeD CaSe 42", "mixed_case_42"},
		{"", ""},
	}
	for _, c := range cases {
		if got := SanitizePrompt(c.in); got != c.want {
			t.Fatalf("SanitizePrompt(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	long := SanitizePrompt(string(make([]byte, 200)))
	if len(long) > sanitizedPromptMaxLen {
		t.Fatalf("sanitized prompt not truncated: %d", len(long))
	}
}
