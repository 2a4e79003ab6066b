// internal/models/device_token.go
package models

import "time"

// Device platforms accepted by the registry.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

// DeviceToken is one push-capable endpoint owned by a user. A user may hold
// many active tokens across devices; invalid tokens are deactivated, never
// deleted.
type DeviceToken struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Token      string    `json:"token"`
	Platform   string    `json:"platform"`
	Active     bool      `json:"active"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ValidPlatform reports whether p names a known device platform.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}
