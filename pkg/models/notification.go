package models

import "time"

// Notification is a persisted per-user notification record. It is created
// by the fan-out dispatcher; the read/deleted flags are mutated afterwards
// by the REST layer and mirrored as notification-updated/-deleted events.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Read      bool           `json:"read"`
	Deleted   bool           `json:"deleted"`
	CreatedAt time.Time      `json:"created_at"`
}
