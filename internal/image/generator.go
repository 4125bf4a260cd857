package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
)

// ErrUpstream wraps any failure of the generation call or the
// follow-up byte fetch. Callers must not register a message when this
// is returned.
var ErrUpstream = errors.New("image generation upstream failure")

const (
	imageSize = openai.CreateImageSize1024x1024

	// Generated images are fetched from a transient URL; cap the body
	// so a misbehaving upstream cannot exhaust memory.
	maxImageBytes = 20 << 20

	sanitizedPromptMaxLen = 64
)

// Generator requests an image from an OpenAI-compatible endpoint and
// retrieves its bytes. The generation call returns a transient URL,
// not bytes, so a second fetch is always required.
type Generator struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewGenerator(baseURL string) *Generator {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Generator{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *Generator) Generate(ctx context.Context, apiKey, prompt string) ([]byte, error) {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = g.BaseURL
	cfg.HTTPClient = g.HTTPClient
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		N:              1,
		Size:           imageSize,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, fmt.Errorf("%w: empty generation response", ErrUpstream)
	}

	return g.fetch(ctx, resp.Data[0].URL)
}

func (g *Generator) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: image fetch status %d", ErrUpstream, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return data, nil
}

// SanitizePrompt derives an identifier-safe token from a prompt for
// logging and derived filenames. It is cosmetic only; storage keys are
// opaque ids.
func SanitizePrompt(prompt string) string {
	var b strings.Builder
	for _, r := range prompt {
		if unicode.IsLetter(r) && r < 128 || unicode.IsDigit(r) && r < 128 {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > sanitizedPromptMaxLen {
		s = s[:sanitizedPromptMaxLen]
	}
	return s
}
