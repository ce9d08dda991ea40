// Package store is the persistence gateway consumed by the realtime
// layer. The relational schema itself (conversations, messages,
// notifications, reminders) belongs to the wider suite; relay only
// reads and writes it through this interface.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hivedesk/relay/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// PendingReminder is a not-yet-dispatched reminder joined with its
// parent event and attendee list.
type PendingReminder struct {
	Reminder  models.Reminder
	Event     models.CalendarEvent
	Attendees []models.EventAttendee
}

// Gateway is the query surface the realtime layer consumes.
type Gateway interface {
	// Users and conversation membership
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListParticipants(ctx context.Context, conversationID string) ([]string, error)

	// Messages
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)

	// Reactions and read receipts
	// ToggleReaction creates the reaction if absent and removes it if
	// present. It returns the affected row and whether it was added.
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (*models.Reaction, bool, error)
	CountReactions(ctx context.Context, messageID, emoji string) (int, error)
	// MarkRead records a read receipt, returning the existing one
	// (created=false) when the message was already read by this user.
	MarkRead(ctx context.Context, messageID, userID string) (*models.ReadReceipt, bool, error)

	// Notifications
	CreateNotification(ctx context.Context, n *models.Notification) error
	CreateNotifications(ctx context.Context, ns []*models.Notification) error
	UpdateNotification(ctx context.Context, n *models.Notification) error
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error)

	// Calendar reminders
	ListPendingReminders(ctx context.Context) ([]*PendingReminder, error)
	// ClaimReminder sets dispatched_at iff it is still null. A false
	// return means another sweep already claimed the reminder.
	ClaimReminder(ctx context.Context, reminderID string, now time.Time) (bool, error)
}
