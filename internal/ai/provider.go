package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrMissingAPIKey is returned synchronously, before any network
// activity, when a request carries no credential.
var ErrMissingAPIKey = errors.New("no API key provided")

type Message struct {
	Role    string
	Content string
}

// Request describes one streaming completion call, including the
// retry envelope the provider honors internally.
type Request struct {
	APIKey   string
	Model    string
	Messages []Message

	Temperature      float32
	TopP             float32
	N                int
	Stop             []string
	MaxTokens        int
	PresencePenalty  float32
	FrequencyPenalty float32
	LogitBias        map[string]int

	// Retry envelope. Zero values fall back to defaults. Retries stop
	// once streaming has begun: a mid-stream failure is terminal.
	RetryCount    int
	FetchTimeout  time.Duration
	ReadTimeout   time.Duration
	RetryInterval time.Duration
	TotalTime     time.Duration
}

// Provider produces a stream of content fragments followed by
// termination. Both channels are closed when the stream ends; at most
// one error is sent. A credential problem is reported via the error
// return instead, before any channel exists.
type Provider interface {
	StreamCompletion(ctx context.Context, req Request) (<-chan string, <-chan error, error)
}

type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(name string, p Provider) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return p, nil
}
