// Package reminder sweeps calendar reminders whose trigger time has
// arrived and hands them to the notification dispatcher.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hivedesk/relay/internal/notify"
	"github.com/hivedesk/relay/internal/observability"
	"github.com/hivedesk/relay/internal/store"
	"github.com/hivedesk/relay/pkg/models"
)

// allDayHour is the local wall-clock hour at which all-day events are
// considered to start.
const allDayHour = 9

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Store is the persistence surface the scheduler sweeps.
type Store interface {
	ListPendingReminders(ctx context.Context) ([]*store.PendingReminder, error)
	ClaimReminder(ctx context.Context, reminderID string, now time.Time) (bool, error)
}

// Dispatcher fans a claimed reminder out to its recipients.
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger *notify.Trigger) ([]*models.Notification, error)
}

// Scheduler periodically scans pending reminders and dispatches those
// inside the lookahead window. Multiple instances may sweep the same
// store; the conditional claim keeps delivery at most once.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger

	lookahead    time.Duration
	pollInterval time.Duration
	schedule     cron.Schedule
	now          func() time.Time
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLookahead sets how far past "now" a trigger time may lie and
// still be dispatched in this sweep.
func WithLookahead(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lookahead = d
		}
	}
}

// WithPollInterval sets the fixed sweep cadence. Ignored when a cron
// schedule is set.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithSchedule replaces the fixed cadence with a cron expression.
func WithSchedule(expr string) (Option, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return func(s *Scheduler) {
		s.schedule = schedule
	}, nil
}

// WithMetrics attaches sweep instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "reminder")
		}
	}
}

// WithNow overrides the clock. Tests only.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a scheduler with a 5 minute lookahead and a
// 1 minute poll interval unless options say otherwise.
func NewScheduler(st Store, dispatcher Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        st,
		dispatcher:   dispatcher,
		logger:       slog.Default().With("component", "reminder"),
		lookahead:    5 * time.Minute,
		pollInterval: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("reminder scheduler started",
		"lookahead", s.lookahead, "poll_interval", s.pollInterval, "cron", s.schedule != nil)
	for {
		wait := s.pollInterval
		if s.schedule != nil {
			wait = time.Until(s.schedule.Next(s.now()))
			if wait < 0 {
				wait = 0
			}
		}
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopped")
			return
		case <-time.After(wait):
		}
		if err := s.DispatchDue(ctx); err != nil {
			s.logger.Error("reminder sweep failed", "error", err)
		}
	}
}

// DispatchDue runs one sweep: every pending reminder whose trigger
// time lies inside (now, now+lookahead] is claimed and, if the claim
// wins, dispatched as a calendar_reminder notification to the event's
// creator and attendees. Trigger times already in the past or beyond
// the lookahead are left untouched for a future sweep.
func (s *Scheduler) DispatchDue(ctx context.Context) error {
	started := s.now()
	pending, err := s.store.ListPendingReminders(ctx)
	if err != nil {
		s.metrics.SweepCompleted(s.now().Sub(started), true)
		return fmt.Errorf("list pending reminders: %w", err)
	}

	deadline := started.Add(s.lookahead)
	dispatched, failed := 0, 0
	for _, p := range pending {
		trigger, err := TriggerTime(&p.Event, p.Reminder.MinutesBefore)
		if err != nil {
			s.logger.Warn("reminder has unresolvable trigger time",
				"reminder_id", p.Reminder.ID, "event_id", p.Event.ID, "error", err)
			failed++
			continue
		}
		if !trigger.After(started) || trigger.After(deadline) {
			continue
		}

		claimed, err := s.store.ClaimReminder(ctx, p.Reminder.ID, started)
		if err != nil {
			s.logger.Error("reminder claim failed", "reminder_id", p.Reminder.ID, "error", err)
			failed++
			continue
		}
		if !claimed {
			// Another sweep got here first.
			continue
		}

		if err := s.dispatch(ctx, p); err != nil {
			s.logger.Error("reminder dispatch failed",
				"reminder_id", p.Reminder.ID, "event_id", p.Event.ID, "error", err)
			failed++
			continue
		}
		dispatched++
	}

	s.metrics.SweepCompleted(s.now().Sub(started), failed > 0)
	if dispatched > 0 || failed > 0 {
		s.logger.Info("reminder sweep completed",
			"scanned", len(pending), "dispatched", dispatched, "failed", failed)
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, p *store.PendingReminder) error {
	recipients := make([]string, 0, len(p.Attendees)+1)
	recipients = append(recipients, p.Event.CreatorID)
	for _, a := range p.Attendees {
		recipients = append(recipients, a.UserID)
	}

	_, err := s.dispatcher.Dispatch(ctx, &notify.Trigger{
		Kind:  notify.KindCalendarReminder,
		Title: p.Event.Title,
		Body:  reminderBody(p.Reminder.MinutesBefore),
		Payload: map[string]any{
			"eventId":  p.Event.ID,
			"startAt":  p.Event.StartAt,
			"allDay":   p.Event.AllDay,
			"reminder": p.Reminder.ID,
		},
		Recipients: recipients,
	})
	return err
}

func reminderBody(minutesBefore int) string {
	switch {
	case minutesBefore <= 0:
		return "Starting now"
	case minutesBefore < 60:
		return fmt.Sprintf("Starts in %d minutes", minutesBefore)
	case minutesBefore%60 == 0:
		hours := minutesBefore / 60
		if hours == 1 {
			return "Starts in 1 hour"
		}
		return fmt.Sprintf("Starts in %d hours", hours)
	default:
		return fmt.Sprintf("Starts in %dh %dm", minutesBefore/60, minutesBefore%60)
	}
}

// TriggerTime computes when a reminder should fire. Timed events count
// back minutesBefore from StartAt. All-day events fire at 09:00 local
// time on the event's date, in the event's timezone when one is
// recorded; minutesBefore does not apply, and resolving the offset per
// instant keeps the wall-clock hour stable across DST transitions.
func TriggerTime(event *models.CalendarEvent, minutesBefore int) (time.Time, error) {
	if event.AllDay {
		loc := time.UTC
		if event.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(event.Timezone)
			if err != nil {
				return time.Time{}, fmt.Errorf("load timezone %q: %w", event.Timezone, err)
			}
		}
		local := event.StartAt.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), allDayHour, 0, 0, 0, loc), nil
	}
	return event.StartAt.Add(-time.Duration(minutesBefore) * time.Minute), nil
}
