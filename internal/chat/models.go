package chat

import "time"

const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Chat is a named, ordered conversation container. Messages only grow
// or shrink by explicit append/delete and are never reordered.
type Chat struct {
	ID        string    `gorm:"primaryKey;size:26" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Messages  []Message `gorm:"foreignKey:ChatID;references:ID" json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

func (Chat) TableName() string { return "chats" }

// Message is one turn within a chat. Content is the only mutable
// field, and only while a bot stream is in flight. Image messages
// carry the generation prompt and a reference to the stored asset.
type Message struct {
	ID      string `gorm:"primaryKey;size:26" json:"id"`
	ChatID  string `gorm:"size:26;not null;index:idx_messages_chat_seq,priority:1" json:"-"`
	Seq     uint64 `gorm:"not null;index:idx_messages_chat_seq,priority:2" json:"-"`
	Role    string `gorm:"size:16;not null" json:"role"`
	Content string `gorm:"type:text;not null" json:"content"`

	Prompt  *string `gorm:"type:text" json:"prompt,omitempty"`
	ImageID *string `gorm:"size:36;index" json:"image_id,omitempty"`

	CreatedAt time.Time `json:"timestamp"`
}

func (Message) TableName() string { return "messages" }

// ImageAsset is a stored binary image blob, owned by the store and
// referenced from messages via ImageID.
type ImageAsset struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Bytes           []byte    `gorm:"type:longblob;not null" json:"-"`
	Prompt          string    `gorm:"type:text;not null" json:"prompt"`
	SanitizedPrompt string    `gorm:"size:64;not null" json:"sanitized_prompt"`
	CreatedAt       time.Time `json:"created_at"`
}

func (ImageAsset) TableName() string { return "image_assets" }
