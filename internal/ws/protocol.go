package ws

import "github.com/parlorhq/parlor/internal/chat"

// Inbound command names. These mirror the socket event vocabulary the
// clients already speak.
const (
	CommandCreateChat    = "create chat"
	CommandDeleteChat    = "delete chat"
	CommandRenameChat    = "rename chat"
	CommandDeleteMessage = "delete message"
	CommandChatMessage   = "chat message"
	CommandImageRequest  = "image request"
)

// Outbound event names, broadcast to every connected client.
const (
	EventChatsUpdated       = "chats updated"
	EventGenerationComplete = "generation complete"
	EventError              = "error"
	EventInfo               = "info"
)

// Command is an inbound frame. Fields are a flat union across all
// command types; which ones matter depends on Type.
type Command struct {
	Type string `json:"type"`

	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Title     string `json:"title,omitempty"`

	APIKey  string `json:"api_key,omitempty"`
	Message string `json:"message,omitempty"`
	Model   string `json:"model,omitempty"`

	Temperature      float32        `json:"temperature,omitempty"`
	TopP             float32        `json:"top_p,omitempty"`
	N                int            `json:"n,omitempty"`
	Stop             []string       `json:"stop,omitempty"`
	MaxTokens        int            `json:"max_tokens,omitempty"`
	PresencePenalty  float32        `json:"presence_penalty,omitempty"`
	FrequencyPenalty float32        `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]int `json:"logit_bias,omitempty"`

	// Retry envelope, all in milliseconds.
	RetryCount    int `json:"retry_count,omitempty"`
	FetchTimeout  int `json:"fetch_timeout,omitempty"`
	ReadTimeout   int `json:"read_timeout,omitempty"`
	RetryInterval int `json:"retry_interval,omitempty"`
	TotalTime     int `json:"total_time,omitempty"`

	ImageToken string `json:"image_token,omitempty"`
}

// Event is an outbound frame. AffectedIndex is present only on
// "chats updated" (-1 when no single chat is affected).
type Event struct {
	Type string `json:"type"`

	Chats         []chat.Chat `json:"chats,omitempty"`
	AffectedIndex *int        `json:"affected_index,omitempty"`

	Message string `json:"message,omitempty"`
}
