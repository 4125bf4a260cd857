package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestAppendMessage_PreservesOrder(t *testing.T) {
	st := NewStore(openTestDB(t), AllowEmpty)
	ctx := context.Background()

	chat, err := st.CreateChat(ctx, "Chat 1")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	contents := []string{"first", "second", "third", "fourth"}
	for _, c := range contents {
		if err := st.AppendMessage(ctx, chat.ID, &Message{Role: RoleUser, Content: c}); err != nil {
			t.Fatalf("append %q: %v", c, err)
		}
	}

	chats, err := st.ListChats(ctx)
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected 1 chat, got %d", len(chats))
	}
	if len(chats[0].Messages) != len(contents) {
		t.Fatalf("expected %d messages, got %d", len(contents), len(chats[0].Messages))
	}
	for i, m := range chats[0].Messages {
		if m.Content != contents[i] {
			t.Fatalf("message %d: expected %q, got %q", i, contents[i], m.Content)
		}
	}
}

func TestAppendMessage_UnknownChat(t *testing.T) {
	st := NewStore(openTestDB(t), AllowEmpty)

	err := st.AppendMessage(context.Background(), "missing", &Message{Role: RoleUser, Content: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMessageContent_MissingTargetIsNoOp(t *testing.T) {
	st := NewStore(openTestDB(t), AllowEmpty)
	ctx := context.Background()

	chat, err := st.CreateChat(ctx, "Chat 1")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	// Neither a missing message nor a missing chat is an error: a
	// stream may outlive its target.
	if err := st.UpdateMessageContent(ctx, chat.ID, "missing-message", "late chunk"); err != nil {
		t.Fatalf("update on missing message: %v", err)
	}
	if err := st.UpdateMessageContent(ctx, "missing-chat", "missing-message", "late chunk"); err != nil {
		t.Fatalf("update on missing chat: %v", err)
	}
}

func TestDeleteChat_ReleasesAssets(t *testing.T) {
	st := NewStore(openTestDB(t), AllowEmpty)
	ctx := context.Background()

	chat, err := st.CreateChat(ctx, "Chat 1")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	asset, err := st.CreateImageAsset(ctx, []byte{0xFF, 0xD8}, "a red cube", "a_red_cube")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	prompt := "a red cube"
	msg := &Message{Role: RoleBot, Content: "/images/" + asset.ID, Prompt: &prompt, ImageID: &asset.ID}
	if err := st.AppendMessage(ctx, chat.ID, msg); err != nil {
		t.Fatalf("append image message: %v", err)
	}

	if err := st.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatalf("delete chat: %v", err)
	}

	if _, err := st.GetImageAsset(ctx, asset.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected asset gone, got %v", err)
	}
	if _, err := st.GetChat(ctx, chat.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected chat gone, got %v", err)
	}
}

func TestDeleteChat_LastChatConflict(t *testing.T) {
	st := NewStore(openTestDB(t), KeepLastChat)
	ctx := context.Background()

	chat, err := st.CreateChat(ctx, "Chat 1")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if err := st.DeleteChat(ctx, chat.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	chats, err := st.ListChats(ctx)
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("chat count changed: %d", len(chats))
	}

	// With a second chat present the delete goes through.
	if _, err := st.CreateChat(ctx, "Chat 2"); err != nil {
		t.Fatalf("create chat 2: %v", err)
	}
	if err := st.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatalf("delete with sibling present: %v", err)
	}
}

func TestDeleteMessage_ReleasesAsset(t *testing.T) {
	st := NewStore(openTestDB(t), AllowEmpty)
	ctx := context.Background()

	chat, err := st.CreateChat(ctx, "Chat 1")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	asset, err := st.CreateImageAsset(ctx, []byte{0xFF, 0xD8}, "a blue cube", "a_blue_cube")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	msg := &Message{Role: RoleBot, Content: "/images/" + asset.ID, ImageID: &asset.ID}
	if err := st.AppendMessage(ctx, chat.ID, msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := st.DeleteMessage(ctx, chat.ID, msg.ID); err != nil {
		t.Fatalf("delete message: %v", err)
	}
	if _, err := st.GetImageAsset(ctx, asset.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected asset gone, got %v", err)
	}

	if err := st.DeleteMessage(ctx, chat.ID, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRenameChat(t *testing.T) {
	st := NewStore(openTestDB(t), AllowEmpty)
	ctx := context.Background()

	chat, err := st.CreateChat(ctx, "Chat 1")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := st.RenameChat(ctx, chat.ID, "Plans"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, err := st.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Title != "Plans" {
		t.Fatalf("expected title %q, got %q", "Plans", got.Title)
	}

	if err := st.RenameChat(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListChats_IdempotentWithoutMutation(t *testing.T) {
	st := NewStore(openTestDB(t), AllowEmpty)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		chat, err := st.CreateChat(ctx, fmt.Sprintf("Chat %d", i+1))
		if err != nil {
			t.Fatalf("create chat: %v", err)
		}
		for j := 0; j < 2; j++ {
			if err := st.AppendMessage(ctx, chat.ID, &Message{Role: RoleUser, Content: fmt.Sprintf("m%d", j)}); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
	}

	first, err := st.ListChats(ctx)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := st.ListChats(ctx)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chat counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Title != second[i].Title {
			t.Fatalf("chat %d differs between reads", i)
		}
		if len(first[i].Messages) != len(second[i].Messages) {
			t.Fatalf("chat %d message counts differ", i)
		}
		for j := range first[i].Messages {
			if first[i].Messages[j].ID != second[i].Messages[j].ID ||
				first[i].Messages[j].Content != second[i].Messages[j].Content {
				t.Fatalf("chat %d message %d differs between reads", i, j)
			}
		}
	}
}

func TestImageJobLifecycle(t *testing.T) {
	st := NewStore(openTestDB(t), AllowEmpty)
	ctx := context.Background()

	job := &ImageJob{ChatID: "c1", Prompt: "a red cube"}
	if err := st.CreateImageJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != JobQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}

	if err := st.MarkImageJobRunning(ctx, job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := st.MarkImageJobSucceeded(ctx, job.ID, "msg-1"); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	got, err := st.GetImageJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobSucceeded {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}
	if got.ResultMessageID == nil || *got.ResultMessageID != "msg-1" {
		t.Fatalf("result message id not recorded: %+v", got.ResultMessageID)
	}
}
