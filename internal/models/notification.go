// internal/models/notification.go
package models

import "time"

// Delivery channels.
const (
	ChannelPush  = "push"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelInApp = "in_app"
)

// Priority controls gateway delivery urgency.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is the in-app audit record materialized once per orchestrated
// delivery, regardless of how many channels fanned out.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Channel   string                 `json:"channel"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Read      bool                   `json:"read"`
	ReadAt    *time.Time             `json:"readAt,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// NotificationPreference is a per-user, per-type delivery policy.
// QuietHoursStart/End hold "HH:MM" wall-clock strings; a window wrapping
// midnight (start > end) is valid and spans overnight.
type NotificationPreference struct {
	UserID          string   `json:"userId"`
	Type            string   `json:"type"`
	Enabled         bool     `json:"enabled"`
	Channels        []string `json:"channels"`
	QuietHoursStart string   `json:"quietHoursStart,omitempty"`
	QuietHoursEnd   string   `json:"quietHoursEnd,omitempty"`
	LeadTimeMinutes int      `json:"leadTimeMinutes,omitempty"`
}

// User is the slice of the external user directory the channels need.
type User struct {
	ID         string `json:"id"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	EmailOptIn bool   `json:"emailOptIn"`
	SMSOptIn   bool   `json:"smsOptIn"`
}

// PushContent is the rendered display part of a push message.
type PushContent struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Icon        string `json:"icon,omitempty"`
	Image       string `json:"image,omitempty"`
	Sound       string `json:"sound,omitempty"`
	Badge       *int   `json:"badge,omitempty"`
	Tag         string `json:"tag,omitempty"`
	Color       string `json:"color,omitempty"`
	ClickAction string `json:"clickAction,omitempty"`
	ChannelID   string `json:"channelId,omitempty"`
}

// DataPayload is the structured key/value part carried alongside a push,
// telling the client app what to open.
type DataPayload struct {
	Action string                 `json:"action"`
	Screen string                 `json:"screen"`
	Data   map[string]interface{} `json:"data,omitempty"`
}
