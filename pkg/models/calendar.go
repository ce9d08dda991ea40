package models

import "time"

// CalendarEvent is the parent entity of a reminder. For all-day events
// StartAt carries the calendar date; the wall-clock trigger is derived
// from Timezone at dispatch time.
type CalendarEvent struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creator_id"`
	Title     string    `json:"title"`
	StartAt   time.Time `json:"start_at"`
	AllDay    bool      `json:"all_day"`
	Timezone  string    `json:"timezone,omitempty"` // IANA name, e.g. "America/New_York"
}

// EventAttendee links a user to a calendar event.
type EventAttendee struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
}

// Reminder schedules a notification ahead of a calendar event.
// Once DispatchedAt is set it is never cleared and the reminder is
// never evaluated again.
type Reminder struct {
	ID            string     `json:"id"`
	EventID       string     `json:"event_id"`
	MinutesBefore int        `json:"minutes_before"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
}
