package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Defaults for the retry envelope, matching the upstream streaming
// client the original server used.
const (
	defaultModel         = "gpt-3.5-turbo"
	defaultRetryCount    = 3
	defaultFetchTimeout  = 20 * time.Second
	defaultReadTimeout   = 10 * time.Second
	defaultRetryInterval = 2 * time.Second
	defaultTotalTime     = 5 * time.Minute
)

// OpenAIProvider streams chat completions from an OpenAI-compatible
// endpoint. Each request builds its own client because the credential
// and timeouts arrive per request.
type OpenAIProvider struct {
	BaseURL string
}

func NewOpenAIProvider(baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{BaseURL: baseURL}
}

func (p *OpenAIProvider) StreamCompletion(ctx context.Context, req Request) (<-chan string, <-chan error, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, nil, ErrMissingAPIKey
	}

	req = withDefaults(req)

	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		deadline := time.Now().Add(req.TotalTime)

		var lastErr error
		for attempt := 0; attempt <= req.RetryCount; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(req.RetryInterval):
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
				if time.Now().After(deadline) {
					break
				}
			}

			streamed, err := p.streamOnce(ctx, req, chunks)
			if err == nil {
				return
			}
			lastErr = err

			// Once content has been delivered the accumulator is no
			// longer a clean slate; retrying would replay fragments.
			if streamed || errors.Is(err, context.Canceled) {
				errs <- err
				return
			}
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("completion retries exhausted")
		}
		errs <- lastErr
	}()

	return chunks, errs, nil
}

// streamOnce runs a single attempt, forwarding fragments to out.
// It reports whether any fragment was delivered.
func (p *OpenAIProvider) streamOnce(ctx context.Context, req Request, out chan<- string) (bool, error) {
	cfg := openai.DefaultConfig(req.APIKey)
	cfg.BaseURL = p.BaseURL
	cfg.HTTPClient = &http.Client{
		Transport: &http.Transport{ResponseHeaderTimeout: req.FetchTimeout},
	}
	client := openai.NewClientWithConfig(cfg)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == "bot" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:            req.Model,
		Messages:         messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		N:                req.N,
		Stop:             req.Stop,
		MaxTokens:        req.MaxTokens,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		LogitBias:        req.LogitBias,
		Stream:           true,
	})
	if err != nil {
		return false, fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	type recvResult struct {
		resp openai.ChatCompletionStreamResponse
		err  error
	}
	// recvDone lets the reader exit when this function returns through
	// the timeout or cancellation paths with recvCh full; otherwise it
	// would block on its next send forever.
	recvCh := make(chan recvResult, 1)
	recvDone := make(chan struct{})
	defer close(recvDone)
	go func() {
		for {
			resp, err := stream.Recv()
			select {
			case recvCh <- recvResult{resp: resp, err: err}:
			case <-recvDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	streamed := false
	timer := time.NewTimer(req.ReadTimeout)
	defer timer.Stop()

	for {
		select {
		case r := <-recvCh:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return streamed, nil
				}
				return streamed, fmt.Errorf("read completion stream: %w", r.err)
			}
			if len(r.resp.Choices) > 0 {
				if delta := r.resp.Choices[0].Delta.Content; delta != "" {
					streamed = true
					select {
					case out <- delta:
					case <-ctx.Done():
						return streamed, ctx.Err()
					}
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(req.ReadTimeout)

		case <-timer.C:
			return streamed, fmt.Errorf("completion stream read timed out after %s", req.ReadTimeout)

		case <-ctx.Done():
			return streamed, ctx.Err()
		}
	}
}

func withDefaults(req Request) Request {
	if req.Model == "" {
		req.Model = defaultModel
	}
	if req.RetryCount <= 0 {
		req.RetryCount = defaultRetryCount
	}
	if req.FetchTimeout <= 0 {
		req.FetchTimeout = defaultFetchTimeout
	}
	if req.ReadTimeout <= 0 {
		req.ReadTimeout = defaultReadTimeout
	}
	if req.RetryInterval <= 0 {
		req.RetryInterval = defaultRetryInterval
	}
	if req.TotalTime <= 0 {
		req.TotalTime = defaultTotalTime
	}
	return req
}
