package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound means the chat, message or asset id did not resolve.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the operation is forbidden by store policy,
	// e.g. deleting the last remaining chat under KeepLastChat.
	ErrConflict = errors.New("conflict")
)

// DeletePolicy controls whether the last remaining chat may be deleted.
type DeletePolicy int

const (
	KeepLastChat DeletePolicy = iota
	AllowEmpty
)

// Store owns chat, message and image-asset persistence. It has no
// protocol knowledge; callers re-read via ListChats after mutating.
type Store struct {
	db     *gorm.DB
	policy DeletePolicy
}

func NewStore(db *gorm.DB, policy DeletePolicy) *Store {
	return &Store{db: db, policy: policy}
}

// Migrate creates or updates the store's tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Chat{}, &Message{}, &ImageAsset{}, &ImageJob{})
}

func (s *Store) CreateChat(ctx context.Context, title string) (*Chat, error) {
	chat := &Chat{
		ID:       NewID(),
		Title:    title,
		Messages: []Message{},
	}
	if err := s.db.WithContext(ctx).Create(chat).Error; err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

func (s *Store) RenameChat(ctx context.Context, chatID, newTitle string) error {
	res := s.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("title", newTitle)
	if res.Error != nil {
		return fmt.Errorf("rename chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChat removes a chat, its messages, and every image asset those
// messages reference. Under KeepLastChat it refuses to delete the last
// remaining chat with ErrConflict.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat Chat
		if err := tx.First(&chat, "id = ?", chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load chat: %w", err)
		}

		if s.policy == KeepLastChat {
			var count int64
			if err := tx.Model(&Chat{}).Count(&count).Error; err != nil {
				return fmt.Errorf("count chats: %w", err)
			}
			if count <= 1 {
				return ErrConflict
			}
		}

		var imageIDs []string
		if err := tx.Model(&Message{}).
			Where("chat_id = ? AND image_id IS NOT NULL", chatID).
			Pluck("image_id", &imageIDs).Error; err != nil {
			return fmt.Errorf("collect asset refs: %w", err)
		}
		if len(imageIDs) > 0 {
			if err := tx.Where("id IN ?", imageIDs).Delete(&ImageAsset{}).Error; err != nil {
				return fmt.Errorf("release assets: %w", err)
			}
		}

		if err := tx.Where("chat_id = ?", chatID).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Delete(&Chat{}, "id = ?", chatID).Error; err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		return nil
	})
}

// AppendMessage appends to the end of the chat's ordered message list.
// The message's ID, Seq and CreatedAt are assigned here.
func (s *Store) AppendMessage(ctx context.Context, chatID string, msg *Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Chat{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
			return fmt.Errorf("check chat: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}

		var maxSeq uint64
		if err := tx.Model(&Message{}).
			Where("chat_id = ?", chatID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("next seq: %w", err)
		}

		msg.ID = NewID()
		msg.ChatID = chatID
		msg.Seq = maxSeq + 1
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		return nil
	})
}

// UpdateMessageContent replaces a message's content. A missing target
// is a silent no-op: a completion stream may outlive its chat or
// message, and a disappeared target is not an error for the caller.
func (s *Store) UpdateMessageContent(ctx context.Context, chatID, messageID, newContent string) error {
	res := s.db.WithContext(ctx).Model(&Message{}).
		Where("chat_id = ? AND id = ?", chatID, messageID).
		Update("content", newContent)
	if res.Error != nil {
		return fmt.Errorf("update message content: %w", res.Error)
	}
	return nil
}

// DeleteMessage removes a message, releasing its image asset if it
// references one.
func (s *Store) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg Message
		if err := tx.First(&msg, "chat_id = ? AND id = ?", chatID, messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load message: %w", err)
		}

		if msg.ImageID != nil {
			if err := tx.Delete(&ImageAsset{}, "id = ?", *msg.ImageID).Error; err != nil {
				return fmt.Errorf("release asset: %w", err)
			}
		}
		if err := tx.Delete(&Message{}, "id = ?", msg.ID).Error; err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		return nil
	})
}

// ListChats returns the full snapshot broadcast after every mutation:
// all chats in creation order, each with its messages in append order.
func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC, id ASC")
		}).
		Order("created_at ASC, id ASC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	for i := range chats {
		if chats[i].Messages == nil {
			chats[i].Messages = []Message{}
		}
	}
	return chats, nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var chat Chat
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC, id ASC")
		}).
		First(&chat, "id = ?", chatID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

func (s *Store) CreateImageAsset(ctx context.Context, bytes []byte, prompt, sanitizedPrompt string) (*ImageAsset, error) {
	asset := &ImageAsset{
		ID:              uuid.New().String(),
		Bytes:           bytes,
		Prompt:          prompt,
		SanitizedPrompt: sanitizedPrompt,
	}
	if err := s.db.WithContext(ctx).Create(asset).Error; err != nil {
		return nil, fmt.Errorf("create image asset: %w", err)
	}
	return asset, nil
}

func (s *Store) GetImageAsset(ctx context.Context, id string) (*ImageAsset, error) {
	var asset ImageAsset
	if err := s.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get image asset: %w", err)
	}
	return &asset, nil
}

func (s *Store) DeleteImageAsset(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&ImageAsset{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete image asset: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Image job lifecycle, used by the async generation path.

func (s *Store) CreateImageJob(ctx context.Context, job *ImageJob) error {
	if job.ID == "" {
		job.ID = NewID()
	}
	if job.Status == "" {
		job.Status = JobQueued
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create image job: %w", err)
	}
	return nil
}

func (s *Store) GetImageJob(ctx context.Context, id string) (*ImageJob, error) {
	var job ImageJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get image job: %w", err)
	}
	return &job, nil
}

func (s *Store) MarkImageJobRunning(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&ImageJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (s *Store) MarkImageJobSucceeded(ctx context.Context, id, resultMessageID string) error {
	return s.db.WithContext(ctx).Model(&ImageJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": resultMessageID,
			"error":             nil,
		}).Error
}

func (s *Store) MarkImageJobFailed(ctx context.Context, id, errMsg string) error {
	return s.db.WithContext(ctx).Model(&ImageJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error
}
