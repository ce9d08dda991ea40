package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivedesk/relay/pkg/models"
)

// MemoryStore provides an in-memory Gateway implementation for testing
// and local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	conversations map[string]*models.Conversation
	participants  map[string][]*models.Participant // conversation id -> rows
	messages      map[string]*models.Message
	reactions     map[string]*models.Reaction // id -> row
	receipts      map[string]*models.ReadReceipt
	notifications map[string]*models.Notification
	reminders     map[string]*models.Reminder
	events        map[string]*models.CalendarEvent
	attendees     map[string][]models.EventAttendee // event id -> rows
}

var _ Gateway = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory gateway.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[string]*models.User{},
		conversations: map[string]*models.Conversation{},
		participants:  map[string][]*models.Participant{},
		messages:      map[string]*models.Message{},
		reactions:     map[string]*models.Reaction{},
		receipts:      map[string]*models.ReadReceipt{},
		notifications: map[string]*models.Notification{},
		reminders:     map[string]*models.Reminder{},
		events:        map[string]*models.CalendarEvent{},
		attendees:     map[string][]models.EventAttendee{},
	}
}

// Seeding helpers for tests and local runs.

func (m *MemoryStore) AddUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryStore) AddConversation(c *models.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.conversations[c.ID] = c
}

func (m *MemoryStore) AddParticipant(conversationID, userID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conversationID]; !ok {
		m.conversations[conversationID] = &models.Conversation{ID: conversationID, CreatedAt: time.Now()}
	}
	m.participants[conversationID] = append(m.participants[conversationID], &models.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		Active:         active,
		JoinedAt:       time.Now(),
	})
}

func (m *MemoryStore) AddEvent(e *models.CalendarEvent, attendees ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
	for _, userID := range attendees {
		m.attendees[e.ID] = append(m.attendees[e.ID], models.EventAttendee{EventID: e.ID, UserID: userID})
	}
}

func (m *MemoryStore) AddReminder(r *models.Reminder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.reminders[r.ID] = r
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *MemoryStore) ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Conversation
	for convID, rows := range m.participants {
		for _, p := range rows {
			if p.UserID == userID && p.Active {
				c, ok := m.conversations[convID]
				if !ok {
					c = &models.Conversation{ID: convID}
				}
				clone := *c
				out = append(out, &clone)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.participants[conversationID] {
		if p.UserID == userID && p.Active {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, p := range m.participants[conversationID] {
		if p.Active {
			out = append(out, p.UserID)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	clone := *msg
	m.messages[msg.ID] = &clone
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *msg
	return &clone, nil
}

func (m *MemoryStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (*models.Reaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return nil, false, ErrNotFound
	}
	for id, r := range m.reactions {
		if r.MessageID == messageID && r.UserID == userID && r.Emoji == emoji {
			removed := *r
			delete(m.reactions, id)
			return &removed, false, nil
		}
	}
	r := &models.Reaction{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now(),
	}
	m.reactions[r.ID] = r
	clone := *r
	return &clone, true, nil
}

func (m *MemoryStore) CountReactions(ctx context.Context, messageID, emoji string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.reactions {
		if r.MessageID == messageID && r.Emoji == emoji {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, messageID, userID string) (*models.ReadReceipt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return nil, false, ErrNotFound
	}
	for _, rr := range m.receipts {
		if rr.MessageID == messageID && rr.UserID == userID {
			clone := *rr
			return &clone, false, nil
		}
	}
	rr := &models.ReadReceipt{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    time.Now(),
	}
	m.receipts[rr.ID] = rr
	clone := *rr
	return &clone, true, nil
}

func (m *MemoryStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return errors.New("notification is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	clone := *n
	m.notifications[n.ID] = &clone
	return nil
}

func (m *MemoryStore) CreateNotifications(ctx context.Context, ns []*models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, n := range ns {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		clone := *n
		m.notifications[n.ID] = &clone
	}
	return nil
}

func (m *MemoryStore) UpdateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		return ErrNotFound
	}
	clone := *n
	m.notifications[n.ID] = &clone
	return nil
}

func (m *MemoryStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.Read && !n.Deleted {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID && !n.Deleted {
			clone := *n
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListPendingReminders(ctx context.Context) ([]*PendingReminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PendingReminder
	for _, r := range m.reminders {
		if r.DispatchedAt != nil {
			continue
		}
		event, ok := m.events[r.EventID]
		if !ok {
			continue
		}
		out = append(out, &PendingReminder{
			Reminder:  *r,
			Event:     *event,
			Attendees: append([]models.EventAttendee(nil), m.attendees[r.EventID]...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reminder.ID < out[j].Reminder.ID })
	return out, nil
}

func (m *MemoryStore) ClaimReminder(ctx context.Context, reminderID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[reminderID]
	if !ok {
		return false, ErrNotFound
	}
	if r.DispatchedAt != nil {
		return false, nil
	}
	at := now
	r.DispatchedAt = &at
	return true, nil
}
