package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hivedesk/relay/pkg/models"
)

func TestMemoryStore_ConversationMembership(t *testing.T) {
	st := NewMemoryStore()
	st.AddUser(&models.User{ID: "alice"})
	st.AddConversation(&models.Conversation{ID: "conv1", Title: "general", IsGroup: true})
	st.AddParticipant("conv1", "alice", true)
	st.AddParticipant("conv2", "alice", false)

	ctx := context.Background()
	convs, err := st.ListUserConversations(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != "conv1" {
		t.Fatalf("ListUserConversations = %v, want only the active conv1", convs)
	}
	if convs[0].Title != "general" || !convs[0].IsGroup {
		t.Fatalf("conversation row = %+v, want the seeded metadata", convs[0])
	}

	ok, err := st.IsParticipant(ctx, "conv2", "alice")
	if err != nil || ok {
		t.Fatalf("IsParticipant(inactive) = %v, %v; want false", ok, err)
	}
}

func TestMemoryStore_GetUserNotFound(t *testing.T) {
	st := NewMemoryStore()
	if _, err := st.GetUser(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetUser(ghost) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ToggleReaction(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	msg := &models.Message{ConversationID: "conv1", SenderID: "alice", Content: "hi"}
	if err := st.CreateMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	_, added, err := st.ToggleReaction(ctx, msg.ID, "bob", "👍")
	if err != nil || !added {
		t.Fatalf("first toggle = added=%v, err=%v; want added", added, err)
	}
	if n, _ := st.CountReactions(ctx, msg.ID, "👍"); n != 1 {
		t.Fatalf("count after add = %d, want 1", n)
	}

	_, added, err = st.ToggleReaction(ctx, msg.ID, "bob", "👍")
	if err != nil || added {
		t.Fatalf("second toggle = added=%v, err=%v; want removed", added, err)
	}
	if n, _ := st.CountReactions(ctx, msg.ID, "👍"); n != 0 {
		t.Fatalf("count after removal = %d, want 0", n)
	}

	if _, _, err := st.ToggleReaction(ctx, "no-such-message", "bob", "👍"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("toggle on missing message = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_MarkReadIdempotent(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	msg := &models.Message{ConversationID: "conv1", SenderID: "alice", Content: "hi"}
	if err := st.CreateMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	first, created, err := st.MarkRead(ctx, msg.ID, "bob")
	if err != nil || !created {
		t.Fatalf("first MarkRead = created=%v, err=%v", created, err)
	}
	second, created, err := st.MarkRead(ctx, msg.ID, "bob")
	if err != nil || created {
		t.Fatalf("second MarkRead = created=%v, err=%v; want existing receipt", created, err)
	}
	if second.ID != first.ID {
		t.Fatalf("repeat MarkRead returned receipt %s, want %s", second.ID, first.ID)
	}
}

func TestMemoryStore_NotificationLifecycle(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	batch := []*models.Notification{
		{UserID: "alice", Kind: "chat_message"},
		{UserID: "alice", Kind: "system_alert"},
		{UserID: "bob", Kind: "chat_message"},
	}
	if err := st.CreateNotifications(ctx, batch); err != nil {
		t.Fatal(err)
	}
	for _, n := range batch {
		if n.ID == "" {
			t.Fatal("batch write left a notification without an id")
		}
	}

	if n, _ := st.CountUnreadNotifications(ctx, "alice"); n != 2 {
		t.Fatalf("unread(alice) = %d, want 2", n)
	}

	batch[0].Read = true
	if err := st.UpdateNotification(ctx, batch[0]); err != nil {
		t.Fatal(err)
	}
	if n, _ := st.CountUnreadNotifications(ctx, "alice"); n != 1 {
		t.Fatalf("unread(alice) after read = %d, want 1", n)
	}

	batch[1].Deleted = true
	if err := st.UpdateNotification(ctx, batch[1]); err != nil {
		t.Fatal(err)
	}
	rows, err := st.ListNotifications(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("ListNotifications(alice) = %d rows, want the deleted one hidden", len(rows))
	}

	if err := st.UpdateNotification(ctx, &models.Notification{ID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of unknown notification = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ClaimReminder(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	st.AddEvent(&models.CalendarEvent{ID: "e1", CreatorID: "alice", StartAt: time.Now()}, "bob")
	st.AddReminder(&models.Reminder{ID: "r1", EventID: "e1", MinutesBefore: 10})

	pending, err := st.ListPendingReminders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Reminder.ID != "r1" {
		t.Fatalf("pending = %+v, want r1", pending)
	}
	if len(pending[0].Attendees) != 1 || pending[0].Attendees[0].UserID != "bob" {
		t.Fatalf("attendees = %v, want [bob]", pending[0].Attendees)
	}

	now := time.Now()
	claimed, err := st.ClaimReminder(ctx, "r1", now)
	if err != nil || !claimed {
		t.Fatalf("first claim = %v, %v; want success", claimed, err)
	}
	claimed, err = st.ClaimReminder(ctx, "r1", now)
	if err != nil || claimed {
		t.Fatalf("second claim = %v, %v; want refusal", claimed, err)
	}

	if pending, _ = st.ListPendingReminders(ctx); len(pending) != 0 {
		t.Fatalf("claimed reminder still listed as pending: %+v", pending)
	}

	if _, err := st.ClaimReminder(ctx, "ghost", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("claim of unknown reminder = %v, want ErrNotFound", err)
	}
}
