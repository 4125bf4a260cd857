package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parlorhq/parlor/internal/ai"
	"github.com/parlorhq/parlor/internal/chat"
	"github.com/parlorhq/parlor/internal/image"
)

// Placeholder content for a bot message whose stream has not produced
// anything yet. Appending it before any network call reserves the
// message's position, so list order reflects request order even under
// concurrent commands.
const placeholderContent = "..."

// historyWindow bounds how many prior messages are replayed to the
// completion service.
const historyWindow = 20

// Broadcaster delivers outbound protocol events to every connected
// client, not just the requester.
type Broadcaster interface {
	ChatsUpdated(chats []chat.Chat, affectedIndex int)
	GenerationComplete()
	Error(message string)
	Info(message string)
}

// Generator is the image pipeline as the orchestrator sees it.
type Generator interface {
	Generate(ctx context.Context, apiKey, prompt string) ([]byte, error)
}

// JobQueue enqueues async image generation jobs. Nil when the async
// path is not configured.
type JobQueue interface {
	PublishImageJob(ctx context.Context, jobID string) error
}

// Service is the synchronization orchestrator: it validates inbound
// commands, mutates the store, and drives the broadcast protocol. It
// holds no conversation state of its own — after every mutation it
// re-reads the store and rebroadcasts the full snapshot, which is what
// makes all clients converge.
type Service struct {
	store        *chat.Store
	providers    *ai.Registry
	providerName string
	images       Generator
	bc           Broadcaster
	jobs         JobQueue

	serverAPIKey  string
	publicBaseURL string
	log           *slog.Logger
}

type Config struct {
	Store        *chat.Store
	Providers    *ai.Registry
	ProviderName string
	Images       Generator
	Broadcaster  Broadcaster
	Jobs         JobQueue

	ServerAPIKey  string
	PublicBaseURL string
	Logger        *slog.Logger
}

func New(cfg Config) *Service {
	name := cfg.ProviderName
	if name == "" {
		name = "openai"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         cfg.Store,
		providers:     cfg.Providers,
		providerName:  name,
		images:        cfg.Images,
		bc:            cfg.Broadcaster,
		jobs:          cfg.Jobs,
		serverAPIKey:  cfg.ServerAPIKey,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		log:           logger.With("component", "service"),
	}
}

func (s *Service) CreateChat(ctx context.Context) {
	chats, err := s.store.ListChats(ctx)
	if err != nil {
		s.storageError(err)
		return
	}
	created, err := s.store.CreateChat(ctx, fmt.Sprintf("Chat %d", len(chats)+1))
	if err != nil {
		s.storageError(err)
		return
	}
	s.broadcastSnapshot(ctx, created.ID)
}

func (s *Service) DeleteChat(ctx context.Context, chatID string) {
	switch err := s.store.DeleteChat(ctx, chatID); err {
	case nil:
		s.broadcastSnapshot(ctx, "")
	case chat.ErrNotFound:
		s.bc.Error("chat not found")
	case chat.ErrConflict:
		s.bc.Error("cannot delete the last remaining chat")
	default:
		s.storageError(err)
	}
}

func (s *Service) RenameChat(ctx context.Context, chatID, newTitle string) {
	switch err := s.store.RenameChat(ctx, chatID, newTitle); err {
	case nil:
		s.bc.Info("chat renamed")
		s.broadcastSnapshot(ctx, chatID)
	case chat.ErrNotFound:
		s.bc.Error("chat not found")
	default:
		s.storageError(err)
	}
}

func (s *Service) DeleteMessage(ctx context.Context, chatID, messageID string) {
	switch err := s.store.DeleteMessage(ctx, chatID, messageID); err {
	case nil:
		s.broadcastSnapshot(ctx, chatID)
	case chat.ErrNotFound:
		s.bc.Error("message not found")
	default:
		s.storageError(err)
	}
}

// ChatMessageArgs carries the "chat message" command payload.
type ChatMessageArgs struct {
	ChatID  string
	APIKey  string
	Message string
	Model   string

	Temperature      float32
	TopP             float32
	N                int
	Stop             []string
	MaxTokens        int
	PresencePenalty  float32
	FrequencyPenalty float32
	LogitBias        map[string]int

	RetryCount    int
	FetchTimeout  time.Duration
	ReadTimeout   time.Duration
	RetryInterval time.Duration
	TotalTime     time.Duration
}

// ChatMessage appends the user's message and a bot placeholder, then
// streams the completion into the placeholder, rebroadcasting the full
// snapshot after every fragment.
func (s *Service) ChatMessage(ctx context.Context, args ChatMessageArgs) {
	if strings.TrimSpace(args.APIKey) == "" {
		s.bc.Error("No API key provided.")
		return
	}

	userMsg := &chat.Message{Role: chat.RoleUser, Content: args.Message}
	if !s.append(ctx, args.ChatID, userMsg) {
		return
	}

	placeholder := &chat.Message{Role: chat.RoleBot, Content: placeholderContent}
	if !s.append(ctx, args.ChatID, placeholder) {
		return
	}

	history, err := s.history(ctx, args.ChatID, placeholder.ID)
	if err != nil {
		s.storageError(err)
		return
	}

	provider, err := s.providers.Get(s.providerName)
	if err != nil {
		s.bc.Error(err.Error())
		return
	}

	// Cancel the stream on any return path; otherwise an early exit
	// (e.g. a storage failure mid-stream) leaves the provider goroutine
	// blocked on an undrained chunk channel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, errs, err := provider.StreamCompletion(ctx, ai.Request{
		APIKey:           args.APIKey,
		Model:            args.Model,
		Messages:         history,
		Temperature:      args.Temperature,
		TopP:             args.TopP,
		N:                args.N,
		Stop:             args.Stop,
		MaxTokens:        args.MaxTokens,
		PresencePenalty:  args.PresencePenalty,
		FrequencyPenalty: args.FrequencyPenalty,
		LogitBias:        args.LogitBias,
		RetryCount:       args.RetryCount,
		FetchTimeout:     args.FetchTimeout,
		ReadTimeout:      args.ReadTimeout,
		RetryInterval:    args.RetryInterval,
		TotalTime:        args.TotalTime,
	})
	if err != nil {
		s.bc.Error(err.Error())
		return
	}

	// The accumulator always holds the full message so far; the store
	// receives the whole thing on every fragment, never a delta.
	var acc strings.Builder
	for fragment := range chunks {
		acc.WriteString(fragment)
		if err := s.store.UpdateMessageContent(ctx, args.ChatID, placeholder.ID, acc.String()); err != nil {
			s.storageError(err)
			return
		}
		s.broadcastSnapshot(ctx, args.ChatID)
	}

	if err := <-errs; err != nil {
		// The placeholder keeps its last streamed content; it is not
		// rolled back or marked failed.
		s.log.Warn("completion stream failed", "chat_id", args.ChatID, "error", err)
		s.bc.Error(err.Error())
		return
	}

	if err := s.store.UpdateMessageContent(ctx, args.ChatID, placeholder.ID, acc.String()); err != nil {
		s.storageError(err)
		return
	}
	s.broadcastSnapshot(ctx, args.ChatID)
	s.bc.GenerationComplete()
}

// ImageRequestArgs carries the "image request" command payload. The
// message holds the raw input line including the command token.
type ImageRequestArgs struct {
	ChatID     string
	APIKey     string
	Message    string
	ImageToken string
}

// ImageRequest appends the user's raw input line, derives the prompt
// by stripping the image command token, and runs the image pipeline —
// inline, or via the job queue when one is configured.
func (s *Service) ImageRequest(ctx context.Context, args ImageRequestArgs) {
	if strings.TrimSpace(args.APIKey) == "" {
		s.bc.Error("No API key provided.")
		return
	}

	userMsg := &chat.Message{Role: chat.RoleUser, Content: args.Message}
	if !s.append(ctx, args.ChatID, userMsg) {
		return
	}

	prompt := strings.TrimSpace(strings.TrimPrefix(args.Message, args.ImageToken))
	if prompt == "" {
		s.bc.Error("empty image prompt")
		return
	}

	if s.jobs != nil && s.serverAPIKey != "" {
		job := &chat.ImageJob{ChatID: args.ChatID, Prompt: prompt}
		if err := s.store.CreateImageJob(ctx, job); err != nil {
			s.storageError(err)
			return
		}
		if err := s.jobs.PublishImageJob(ctx, job.ID); err != nil {
			s.log.Error("publish image job", "job_id", job.ID, "error", err)
			s.bc.Error("failed to queue image generation")
			return
		}
		s.bc.Info("image generation queued")
		return
	}

	data, err := s.images.Generate(ctx, args.APIKey, prompt)
	if err != nil {
		s.log.Warn("image generation failed", "chat_id", args.ChatID, "error", err)
		s.bc.Error(err.Error())
		return
	}

	s.registerImage(ctx, args.ChatID, prompt, data)
}

// registerImage persists the asset and appends the referencing bot
// message. On append failure the asset is released so no orphaned blob
// survives a half-finished registration.
func (s *Service) registerImage(ctx context.Context, chatID, prompt string, data []byte) {
	asset, err := s.store.CreateImageAsset(ctx, data, prompt, image.SanitizePrompt(prompt))
	if err != nil {
		s.storageError(err)
		return
	}

	botMsg := &chat.Message{
		Role:    chat.RoleBot,
		Content: s.publicBaseURL + "/images/" + asset.ID,
		Prompt:  &prompt,
		ImageID: &asset.ID,
	}
	if err := s.store.AppendMessage(ctx, chatID, botMsg); err != nil {
		if delErr := s.store.DeleteImageAsset(ctx, asset.ID); delErr != nil {
			s.log.Error("release asset after failed append", "asset_id", asset.ID, "error", delErr)
		}
		if err == chat.ErrNotFound {
			s.bc.Error("chat not found")
		} else {
			s.storageError(err)
		}
		return
	}

	s.broadcastSnapshot(ctx, chatID)
	s.bc.GenerationComplete()
}

// Resync rebroadcasts the full snapshot. Used when an out-of-process
// mutation (the image worker) signals that state changed.
func (s *Service) Resync(ctx context.Context, chatID string) {
	s.broadcastSnapshot(ctx, chatID)
}

// append writes a message and rebroadcasts; reports whether it stuck.
func (s *Service) append(ctx context.Context, chatID string, msg *chat.Message) bool {
	if err := s.store.AppendMessage(ctx, chatID, msg); err != nil {
		if err == chat.ErrNotFound {
			s.bc.Error("chat not found")
		} else {
			s.storageError(err)
		}
		return false
	}
	s.broadcastSnapshot(ctx, chatID)
	return true
}

// history builds the completion context from the chat's messages,
// excluding the streaming placeholder and image messages.
func (s *Service) history(ctx context.Context, chatID, placeholderID string) ([]ai.Message, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	msgs := make([]ai.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.ID == placeholderID || m.ImageID != nil {
			continue
		}
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}
	return msgs, nil
}

// broadcastSnapshot re-reads the full chat list and broadcasts it to
// everyone. affectedChatID selects the affected_index hint; empty or
// unresolvable means -1.
func (s *Service) broadcastSnapshot(ctx context.Context, affectedChatID string) {
	chats, err := s.store.ListChats(ctx)
	if err != nil {
		// The store is the source of truth; without a fresh read there
		// is nothing consistent to broadcast.
		s.storageError(err)
		return
	}

	idx := -1
	if affectedChatID != "" {
		for i := range chats {
			if chats[i].ID == affectedChatID {
				idx = i
				break
			}
		}
	}
	s.bc.ChatsUpdated(chats, idx)
}

func (s *Service) storageError(err error) {
	s.log.Error("storage failure", "error", err)
	s.bc.Error("storage failure: " + err.Error())
}
