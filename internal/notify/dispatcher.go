// Package notify fans one trigger out into per-recipient notification
// rows and up to three independent delivery attempts each: live push to
// a connected session, mobile/web push, and email. Channels fail
// independently; no channel failure ever reaches the business action
// that produced the trigger.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hivedesk/relay/internal/observability"
	"github.com/hivedesk/relay/pkg/models"
)

// Trigger describes one notification to create and for whom. It is
// consumed once and not persisted.
type Trigger struct {
	Kind       Kind
	Title      string
	Body       string
	Payload    map[string]any
	Recipients []string
	SenderID   string
}

// Store is the persistence surface the dispatcher writes through.
type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	CreateNotifications(ctx context.Context, ns []*models.Notification) error
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// LiveSender delivers an event to a user's live connection, reporting
// whether the user had one.
type LiveSender interface {
	SendToUser(userID, event string, payload any) (bool, error)
}

// PushSender delivers a notification to the user's registered devices.
type PushSender interface {
	Send(ctx context.Context, userID string, n *models.Notification) error
}

// EmailSender delivers a rendered notification email.
type EmailSender interface {
	// Available reports whether email delivery is configured; when it
	// is not, the email channel is skipped entirely.
	Available() bool
	Send(ctx context.Context, to, name, subject, htmlBody string) error
}

// Dispatcher implements the multi-channel notification fan-out.
type Dispatcher struct {
	store   Store
	live    LiveSender
	push    PushSender
	email   EmailSender
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithLiveSender wires the live broadcast channel.
func WithLiveSender(live LiveSender) Option {
	return func(d *Dispatcher) { d.live = live }
}

// WithPushSender wires the push delivery channel.
func WithPushSender(push PushSender) Option {
	return func(d *Dispatcher) { d.push = push }
}

// WithEmailSender wires the email delivery channel.
func WithEmailSender(email EmailSender) Option {
	return func(d *Dispatcher) { d.email = email }
}

// WithMetrics wires delivery metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// NewDispatcher creates a dispatcher writing through the given store.
// If logger is nil, slog.Default() is used.
func NewDispatcher(store Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:  store,
		logger: logger.With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetLiveSender attaches the live channel after construction. The live
// channel is the hub's broadcaster, which is built after the
// dispatcher, so serve wiring calls this once both exist.
func (d *Dispatcher) SetLiveSender(live LiveSender) {
	d.live = live
}

// Dispatch creates one notification row per recipient (excluding the
// sender, for kinds that have one) and attempts delivery on every
// configured channel. It returns the created notifications; the only
// hard error is an unknown kind, which is a caller bug. Delivery
// failures are logged and swallowed; the business action that produced
// the trigger must never be failed by its notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger *Trigger) ([]*models.Notification, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}
	if !trigger.Kind.Valid() {
		return nil, fmt.Errorf("unknown notification kind %q", trigger.Kind)
	}

	recipients := d.resolveRecipients(trigger)
	if len(recipients) == 0 {
		return nil, nil
	}

	notifications := make([]*models.Notification, 0, len(recipients))
	for _, userID := range recipients {
		notifications = append(notifications, &models.Notification{
			UserID:  userID,
			Kind:    trigger.Kind.String(),
			Title:   trigger.Title,
			Body:    trigger.Body,
			Payload: trigger.Payload,
		})
	}

	created := d.persist(ctx, notifications)
	for _, n := range created {
		d.metrics.NotificationCreated(n.Kind)
		d.deliver(ctx, n)
	}
	return created, nil
}

// resolveRecipients drops the sender and duplicate entries, preserving
// order.
func (d *Dispatcher) resolveRecipients(trigger *Trigger) []string {
	seen := make(map[string]struct{}, len(trigger.Recipients))
	out := make([]string, 0, len(trigger.Recipients))
	for _, userID := range trigger.Recipients {
		if userID == "" {
			continue
		}
		if trigger.Kind.ExcludesSender() && userID == trigger.SenderID {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		out = append(out, userID)
	}
	return out
}

// persist writes the notification rows. A multi-recipient fan-out uses
// one batched call; if the batch fails it falls back to individual
// writes so one bad row cannot abort the whole batch. Either mode
// reflects generated ids back into the returned records, which the live
// channel includes in its payload.
func (d *Dispatcher) persist(ctx context.Context, notifications []*models.Notification) []*models.Notification {
	if len(notifications) == 1 {
		if err := d.store.CreateNotification(ctx, notifications[0]); err != nil {
			d.logger.Error("notification write failed",
				"recipient", notifications[0].UserID, "kind", notifications[0].Kind, "error", err)
			return nil
		}
		return notifications
	}

	if err := d.store.CreateNotifications(ctx, notifications); err == nil {
		return notifications
	} else {
		d.logger.Warn("batched notification write failed, retrying individually", "error", err)
	}

	created := notifications[:0]
	for _, n := range notifications {
		if err := d.store.CreateNotification(ctx, n); err != nil {
			d.logger.Error("notification write failed",
				"recipient", n.UserID, "kind", n.Kind, "error", err)
			continue
		}
		created = append(created, n)
	}
	return created
}

// deliver runs the three channels for one notification concurrently and
// waits for all of them. Each attempt carries its own failure boundary.
func (d *Dispatcher) deliver(ctx context.Context, n *models.Notification) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		d.attempt(ctx, "live", n, d.deliverLive)
	}()
	go func() {
		defer wg.Done()
		d.attempt(ctx, "push", n, d.deliverPush)
	}()
	go func() {
		defer wg.Done()
		d.attempt(ctx, "email", n, d.deliverEmail)
	}()

	wg.Wait()
}

// errChannelSkipped marks a channel that is not configured for this
// deployment; it is not a failure.
var errChannelSkipped = errors.New("channel not configured")

func (d *Dispatcher) attempt(ctx context.Context, channel string, n *models.Notification, fn func(context.Context, *models.Notification) error) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.DeliveryAttempt(channel, "error")
			d.logger.Error("panic in delivery channel",
				"channel", channel, "recipient", n.UserID, "notification_id", n.ID, "panic", r)
		}
	}()

	err := fn(ctx, n)
	switch {
	case err == nil:
		d.metrics.DeliveryAttempt(channel, "success")
	case errors.Is(err, errChannelSkipped):
		d.metrics.DeliveryAttempt(channel, "skipped")
	default:
		d.metrics.DeliveryAttempt(channel, "error")
		d.logger.Error("delivery channel failed",
			"channel", channel, "recipient", n.UserID, "notification_id", n.ID, "error", err)
	}
}

func (d *Dispatcher) deliverLive(ctx context.Context, n *models.Notification) error {
	if d.live == nil {
		return errChannelSkipped
	}
	delivered, err := d.live.SendToUser(n.UserID, "new-notification", n)
	if err != nil {
		return err
	}
	if !delivered {
		// No live connection; the other channels carry offline
		// delivery.
		return errChannelSkipped
	}
	return nil
}

func (d *Dispatcher) deliverPush(ctx context.Context, n *models.Notification) error {
	if d.push == nil {
		return errChannelSkipped
	}
	return d.push.Send(ctx, n.UserID, n)
}

func (d *Dispatcher) deliverEmail(ctx context.Context, n *models.Notification) error {
	if d.email == nil || !d.email.Available() {
		return errChannelSkipped
	}
	user, err := d.store.GetUser(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if user.Email == "" {
		return errChannelSkipped
	}
	subject, body, err := renderEmail(n)
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}
	return d.email.Send(ctx, user.Email, user.DisplayName, subject, body)
}
