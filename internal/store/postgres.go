package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/hivedesk/relay/pkg/models"
)

// PostgresStore implements Gateway against the suite's relational schema.
type PostgresStore struct {
	db           *sql.DB
	queryTimeout time.Duration
}

var _ Gateway = (*PostgresStore)(nil)

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	// QueryTimeout bounds every gateway call so a stalled query cannot
	// block a connection handler indefinitely.
	QueryTimeout time.Duration
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		QueryTimeout:    5 * time.Second,
	}
}

// NewPostgresStore opens a Postgres-backed gateway using a DSN/URL.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db, queryTimeout: config.QueryTimeout}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying database connection.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			is_group BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (conversation_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS reactions (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			emoji TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (message_id, user_id, emoji)
		)`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			read_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (message_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			payload JSONB,
			read BOOLEAN NOT NULL DEFAULT false,
			deleted BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id TEXT PRIMARY KEY,
			creator_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			start_at TIMESTAMPTZ NOT NULL,
			all_day BOOLEAN NOT NULL DEFAULT false,
			timezone TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS event_attendees (
			event_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (event_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			minutes_before INTEGER NOT NULL DEFAULT 0,
			dispatched_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_pending ON reminders (event_id) WHERE dispatched_at IS NULL`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.title, c.is_group, c.created_at
		 FROM conversation_participants cp
		 JOIN conversations c ON c.id = cp.conversation_id
		 WHERE cp.user_id = $1 AND cp.active ORDER BY c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.IsGroup, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2 AND active
		)`, conversationID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("is participant: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants
		 WHERE conversation_id = $1 AND active`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var msg models.Message
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at FROM messages WHERE id = $1`, id,
	).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (*models.Reaction, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var removed models.Reaction
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3
		 RETURNING id, message_id, user_id, emoji, created_at`,
		messageID, userID, emoji,
	).Scan(&removed.ID, &removed.MessageID, &removed.UserID, &removed.Emoji, &removed.CreatedAt)
	if err == nil {
		return &removed, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("toggle reaction: %w", err)
	}

	r := &models.Reaction{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reactions (id, message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.MessageID, r.UserID, r.Emoji, r.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("toggle reaction: %w", err)
	}
	return r, true, nil
}

func (s *PostgresStore) CountReactions(ctx context.Context, messageID, emoji string) (int, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM reactions WHERE message_id = $1 AND emoji = $2`,
		messageID, emoji).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reactions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, messageID, userID string) (*models.ReadReceipt, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rr := &models.ReadReceipt{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    time.Now(),
	}
	// ON CONFLICT DO NOTHING keeps the call idempotent; a losing insert
	// falls through to returning the existing receipt.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO read_receipts (id, message_id, user_id, read_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		rr.ID, rr.MessageID, rr.UserID, rr.ReadAt)
	if err != nil {
		return nil, false, fmt.Errorf("mark read: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return rr, true, nil
	}

	var existing models.ReadReceipt
	err = s.db.QueryRowContext(ctx,
		`SELECT id, message_id, user_id, read_at FROM read_receipts
		 WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	).Scan(&existing.ID, &existing.MessageID, &existing.UserID, &existing.ReadAt)
	if err != nil {
		return nil, false, fmt.Errorf("mark read: %w", err)
	}
	return &existing, false, nil
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.insertNotification(ctx, n)
}

func (s *PostgresStore) CreateNotifications(ctx context.Context, ns []*models.Notification) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	defer tx.Rollback()

	for _, n := range ns {
		if err := s.insertNotificationTx(ctx, tx, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) insertNotification(ctx context.Context, n *models.Notification) error {
	return s.insertNotificationTx(ctx, nil, n)
}

func (s *PostgresStore) insertNotificationTx(ctx context.Context, tx *sql.Tx, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	var payload any
	if n.Payload != nil {
		data, err := json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("marshal notification payload: %w", err)
		}
		payload = data
	}

	const q = `INSERT INTO notifications (id, user_id, kind, title, body, payload, read, deleted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, n.ID, n.UserID, n.Kind, n.Title, n.Body, payload, n.Read, n.Deleted, n.CreatedAt)
	} else {
		_, err = s.db.ExecContext(ctx, q, n.ID, n.UserID, n.Kind, n.Title, n.Body, payload, n.Read, n.Deleted, n.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNotification(ctx context.Context, n *models.Notification) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = $2, deleted = $3 WHERE id = $1`,
		n.ID, n.Read, n.Deleted)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT read AND NOT deleted`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, title, body, payload, read, deleted, created_at
		 FROM notifications
		 WHERE user_id = $1 AND NOT deleted
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &payload, &n.Read, &n.Deleted, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &n.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal notification payload: %w", err)
			}
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListPendingReminders(ctx context.Context) ([]*PendingReminder, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.event_id, r.minutes_before,
		        e.id, e.creator_id, e.title, e.start_at, e.all_day, e.timezone
		 FROM reminders r
		 JOIN calendar_events e ON e.id = r.event_id
		 WHERE r.dispatched_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("list pending reminders: %w", err)
	}
	defer rows.Close()

	var out []*PendingReminder
	for rows.Next() {
		var p PendingReminder
		if err := rows.Scan(
			&p.Reminder.ID, &p.Reminder.EventID, &p.Reminder.MinutesBefore,
			&p.Event.ID, &p.Event.CreatorID, &p.Event.Title, &p.Event.StartAt,
			&p.Event.AllDay, &p.Event.Timezone,
		); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range out {
		attendees, err := s.listAttendees(ctx, p.Event.ID)
		if err != nil {
			return nil, err
		}
		p.Attendees = attendees
	}
	return out, nil
}

func (s *PostgresStore) listAttendees(ctx context.Context, eventID string) ([]models.EventAttendee, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, user_id FROM event_attendees WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	defer rows.Close()

	var out []models.EventAttendee
	for rows.Next() {
		var a models.EventAttendee
		if err := rows.Scan(&a.EventID, &a.UserID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClaimReminder(ctx context.Context, reminderID string, now time.Time) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET dispatched_at = $2 WHERE id = $1 AND dispatched_at IS NULL`,
		reminderID, now)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
