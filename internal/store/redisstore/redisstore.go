package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	noticeChannel = "parlor:notices"

	imageCachePrefix = "parlor:image:"
	imageCacheTTL    = time.Hour
)

// Notice kinds published over the sync channel.
const (
	NoticeSync  = "sync"
	NoticeDone  = "done"
	NoticeError = "error"
)

// Notice tells server processes that conversation state changed out of
// process (the image worker finished or failed a job) so they can
// rebroadcast to their websocket clients.
type Notice struct {
	Kind    string `json:"kind"`
	ChatID  string `json:"chat_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Store wraps the redis client used for cross-process sync notices and
// the image byte cache.
type Store struct {
	rdb *redis.Client
	log *slog.Logger
}

func New(addr, password string, db int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		log: logger.With("component", "redisstore"),
	}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) PublishNotice(ctx context.Context, n Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	if err := s.rdb.Publish(ctx, noticeChannel, body).Err(); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

// SubscribeNotices delivers notices until ctx is cancelled. Malformed
// payloads are logged and skipped.
func (s *Store) SubscribeNotices(ctx context.Context) <-chan Notice {
	out := make(chan Notice, 16)
	sub := s.rdb.Subscribe(ctx, noticeChannel)

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n Notice
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					s.log.Warn("bad notice payload", "error", err)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// CacheImage stores image bytes for the /images endpoint's
// read-through cache.
func (s *Store) CacheImage(ctx context.Context, id string, data []byte) error {
	return s.rdb.Set(ctx, imageCachePrefix+id, data, imageCacheTTL).Err()
}

// CachedImage returns the cached bytes, or (nil, nil) on a miss.
func (s *Store) CachedImage(ctx context.Context, id string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, imageCachePrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("image cache get: %w", err)
	}
	return data, nil
}
