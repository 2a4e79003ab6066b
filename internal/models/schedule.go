// internal/models/schedule.go
package models

import "time"

// ScheduledNotification is a future delivery stored until its due time.
// Sent doubles as the claim flag: a runner flips it with a conditional
// update before delivering, so concurrent pollers never double-send.
type ScheduledNotification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Type      string                 `json:"type"`
	DueAt     time.Time              `json:"dueAt"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Channels  []string               `json:"channels,omitempty"`
	Sent      bool                   `json:"sent"`
	SentAt    *time.Time             `json:"sentAt,omitempty"`
	LastError string                 `json:"lastError,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}
