package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hivedesk/relay/internal/auth"
	"github.com/hivedesk/relay/internal/notify"
	"github.com/hivedesk/relay/internal/observability"
	"github.com/hivedesk/relay/internal/store"
	"github.com/hivedesk/relay/pkg/models"
)

const messagePreviewLimit = 120

// Hub wires the connection registry, room membership, typing tracker,
// broadcaster, and notification dispatcher into the operations the
// websocket plane exposes.
type Hub struct {
	store       store.Gateway
	verifier    auth.Verifier
	registry    *Registry
	typing      *TypingTracker
	broadcaster *Broadcaster
	dispatcher  *notify.Dispatcher
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// New creates a hub. If logger is nil, slog.Default() is used.
func New(gateway store.Gateway, verifier auth.Verifier, dispatcher *notify.Dispatcher, metrics *observability.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry(logger)
	return &Hub{
		store:       gateway,
		verifier:    verifier,
		registry:    registry,
		typing:      NewTypingTracker(),
		broadcaster: NewBroadcaster(registry, metrics, logger),
		dispatcher:  dispatcher,
		metrics:     metrics,
		logger:      logger.With("component", "hub"),
	}
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Broadcaster exposes the live fan-out, consumed by the dispatcher as
// its live channel.
func (h *Hub) Broadcaster() *Broadcaster { return h.broadcaster }

// Hello carries state the client needs right after the handshake.
type Hello struct {
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName"`
	Rooms       []string `json:"rooms"`
	Unread      int      `json:"unread"`
}

// Connect verifies the bearer credential, resolves the user, registers
// the connection as the user's delivery target, and performs the
// initial room subscriptions. A verification or lookup failure is fatal
// to this attempt; the transport is never admitted.
func (h *Hub) Connect(ctx context.Context, token string, transport Transport) (*Connection, *Hello, error) {
	identity, err := h.verifier.Verify(token)
	if err != nil {
		return nil, nil, err
	}

	user, err := h.store.GetUser(ctx, identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, auth.ErrUnknownUser
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve user: %w", err)
	}

	conn := &Connection{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Name:      user.DisplayName,
		Email:     user.Email,
		transport: transport,
	}
	h.registry.Register(conn)
	h.metrics.ConnectionOpened()

	h.joinInitialRooms(ctx, conn)

	unread, err := h.store.CountUnreadNotifications(ctx, user.ID)
	if err != nil {
		h.logger.Warn("unread count unavailable", "user_id", user.ID, "error", err)
	}

	h.logger.Info("connection established", "conn_id", conn.ID, "user_id", user.ID)
	return conn, &Hello{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Rooms:       h.registry.ConnectionRooms(conn.ID),
		Unread:      unread,
	}, nil
}

// joinInitialRooms subscribes the connection to one room per active
// conversation plus the user's private room. A failed room-list fetch
// degrades to the private room alone; the connection stays up.
func (h *Hub) joinInitialRooms(ctx context.Context, conn *Connection) {
	h.registry.JoinRoom(conn.ID, PrivateRoom(conn.UserID))

	conversations, err := h.store.ListUserConversations(ctx, conn.UserID)
	if err != nil {
		h.logger.Warn("initial room list unavailable, joined 0 conversation rooms",
			"user_id", conn.UserID, "error", err)
		return
	}
	for _, conversation := range conversations {
		h.registry.JoinRoom(conn.ID, conversation.ID)
	}
}

// Disconnect clears the user's typing state (emitting one stop event
// per affected conversation), then removes the connection and both
// halves of the user mapping.
func (h *Hub) Disconnect(conn *Connection) {
	if conn == nil {
		return
	}
	for _, conversationID := range h.typing.Disconnect(conn.UserID) {
		h.broadcaster.BroadcastExcept(conversationID, "typing-changed", typingEvent{
			ConversationID: conversationID,
			UserID:         conn.UserID,
			IsTyping:       false,
		}, conn.ID)
	}
	if h.registry.Unregister(conn.ID) != nil {
		h.metrics.ConnectionClosed()
	}
	h.logger.Info("connection closed", "conn_id", conn.ID, "user_id", conn.UserID)
}

// requireParticipant is the authorization gate for conversation-scoped
// events.
func (h *Hub) requireParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := h.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("participant check: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// JoinRoom explicitly subscribes the connection to a conversation room.
func (h *Hub) JoinRoom(ctx context.Context, conn *Connection, conversationID string) error {
	if err := h.requireParticipant(ctx, conversationID, conn.UserID); err != nil {
		return err
	}
	h.registry.JoinRoom(conn.ID, conversationID)
	return nil
}

// LeaveRoom unsubscribes the connection from a room. Always succeeds.
func (h *Hub) LeaveRoom(conn *Connection, roomID string) {
	h.registry.LeaveRoom(conn.ID, roomID)
}

type typingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// TypingStart marks the user as typing and tells the rest of the room.
func (h *Hub) TypingStart(ctx context.Context, conn *Connection, conversationID string) error {
	if err := h.requireParticipant(ctx, conversationID, conn.UserID); err != nil {
		return err
	}
	h.typing.Start(conversationID, conn.UserID)
	h.broadcaster.BroadcastExcept(conversationID, "typing-changed", typingEvent{
		ConversationID: conversationID,
		UserID:         conn.UserID,
		IsTyping:       true,
	}, conn.ID)
	return nil
}

// TypingStop clears the user's typing flag. Stopping when not typing is
// a no-op and emits nothing.
func (h *Hub) TypingStop(ctx context.Context, conn *Connection, conversationID string) error {
	if err := h.requireParticipant(ctx, conversationID, conn.UserID); err != nil {
		return err
	}
	if h.typing.Stop(conversationID, conn.UserID) {
		h.broadcaster.BroadcastExcept(conversationID, "typing-changed", typingEvent{
			ConversationID: conversationID,
			UserID:         conn.UserID,
			IsTyping:       false,
		}, conn.ID)
	}
	return nil
}

// NewMessage persists a chat message, broadcasts it to the conversation
// room, and fans out chat_message/chat_mention notifications. The
// persistence error, if any, is the sender's answer; notification and
// delivery failures are invisible to the sender.
func (h *Hub) NewMessage(ctx context.Context, conn *Connection, conversationID, content string) (*models.Message, error) {
	if err := h.requireParticipant(ctx, conversationID, conn.UserID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       conn.UserID,
		Content:        content,
	}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	h.broadcaster.Broadcast(conversationID, "message-received", msg)
	h.notifyMessage(ctx, conn, msg)
	return msg, nil
}

// notifyMessage splits the conversation's participants into mentioned
// and unmentioned recipients and dispatches one trigger per group.
func (h *Hub) notifyMessage(ctx context.Context, conn *Connection, msg *models.Message) {
	if h.dispatcher == nil {
		return
	}
	participants, err := h.store.ListParticipants(ctx, msg.ConversationID)
	if err != nil {
		h.logger.Error("participant fetch failed, skipping notification fan-out",
			"conversation_id", msg.ConversationID, "message_id", msg.ID, "error", err)
		return
	}

	mentioned := h.mentionedUsers(ctx, msg.Content, participants)
	var plain, mentions []string
	for _, userID := range participants {
		if _, ok := mentioned[userID]; ok {
			mentions = append(mentions, userID)
		} else {
			plain = append(plain, userID)
		}
	}

	payload := map[string]any{
		"conversationId": msg.ConversationID,
		"messageId":      msg.ID,
	}
	if len(plain) > 0 {
		h.dispatch(ctx, &notify.Trigger{
			Kind:       notify.KindChatMessage,
			Title:      conn.Name,
			Body:       preview(msg.Content),
			Payload:    payload,
			Recipients: plain,
			SenderID:   conn.UserID,
		})
	}
	if len(mentions) > 0 {
		h.dispatch(ctx, &notify.Trigger{
			Kind:       notify.KindChatMention,
			Title:      conn.Name + " mentioned you",
			Body:       preview(msg.Content),
			Payload:    payload,
			Recipients: mentions,
			SenderID:   conn.UserID,
		})
	}
}

// dispatch shields the business action from the dispatcher: an error
// here (a caller bug, per the kind contract) is logged, never surfaced.
func (h *Hub) dispatch(ctx context.Context, trigger *notify.Trigger) {
	if _, err := h.dispatcher.Dispatch(ctx, trigger); err != nil {
		h.logger.Error("notification dispatch rejected", "kind", trigger.Kind, "error", err)
	}
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= messagePreviewLimit {
		return content
	}
	return string(runes[:messagePreviewLimit]) + "…"
}

// ReactionEvent mirrors a reaction toggle to the conversation room.
type ReactionEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
	Emoji          string `json:"emoji"`
	Added          bool   `json:"added"`
	Count          int    `json:"count"`
}

// React toggles the user's emoji reaction on a message. A second toggle
// with the same emoji removes what the first created.
func (h *Hub) React(ctx context.Context, conn *Connection, messageID, emoji string) (*ReactionEvent, error) {
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	if err := h.requireParticipant(ctx, msg.ConversationID, conn.UserID); err != nil {
		return nil, err
	}

	_, added, err := h.store.ToggleReaction(ctx, messageID, conn.UserID, emoji)
	if err != nil {
		return nil, fmt.Errorf("toggle reaction: %w", err)
	}
	count, err := h.store.CountReactions(ctx, messageID, emoji)
	if err != nil {
		h.logger.Warn("reaction count unavailable", "message_id", messageID, "error", err)
	}

	event := &ReactionEvent{
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		UserID:         conn.UserID,
		Emoji:          emoji,
		Added:          added,
		Count:          count,
	}
	h.broadcaster.Broadcast(msg.ConversationID, "message-reaction", event)

	if added && msg.SenderID != conn.UserID && h.dispatcher != nil {
		h.dispatch(ctx, &notify.Trigger{
			Kind:       notify.KindChatReaction,
			Title:      conn.Name + " reacted " + emoji,
			Payload:    map[string]any{"conversationId": msg.ConversationID, "messageId": messageID},
			Recipients: []string{msg.SenderID},
			SenderID:   conn.UserID,
		})
	}
	return event, nil
}

// MarkRead records a read receipt and mirrors it to the conversation
// room. Marking an already-read message returns the existing receipt
// and emits nothing.
func (h *Hub) MarkRead(ctx context.Context, conn *Connection, messageID string) (*models.ReadReceipt, error) {
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	if err := h.requireParticipant(ctx, msg.ConversationID, conn.UserID); err != nil {
		return nil, err
	}

	receipt, created, err := h.store.MarkRead(ctx, messageID, conn.UserID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if created {
		h.broadcaster.Broadcast(msg.ConversationID, "message-read", map[string]any{
			"conversationId": msg.ConversationID,
			"messageId":      messageID,
			"userId":         conn.UserID,
			"readAt":         receipt.ReadAt,
		})
	}
	return receipt, nil
}

// Presence broadcasts the user's status to every conversation room the
// connection is subscribed to.
func (h *Hub) Presence(conn *Connection, status models.PresenceStatus) {
	payload := map[string]any{
		"userId": conn.UserID,
		"status": status,
	}
	for _, roomID := range h.registry.ConnectionRooms(conn.ID) {
		if roomID == PrivateRoom(conn.UserID) {
			continue
		}
		h.broadcaster.BroadcastExcept(roomID, "user-presence", payload, conn.ID)
	}
}

// NotificationUpdated mirrors a read/deleted flag change to the user's
// live session. Called by the suite's REST layer after it mutates the
// row.
func (h *Hub) NotificationUpdated(n *models.Notification) {
	event := "notification-updated"
	if n.Deleted {
		event = "notification-deleted"
	}
	if _, err := h.broadcaster.SendToUser(n.UserID, event, n); err != nil {
		h.logger.Debug("notification mirror failed", "user_id", n.UserID, "error", err)
	}
}
