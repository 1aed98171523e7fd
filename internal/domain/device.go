package domain

import "time"

// Platform identifies the push transport a device token belongs to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// DeviceToken is a registered push target for a recipient.
type DeviceToken struct {
	Token       string    `json:"token"`
	RecipientID string    `json:"recipient_id"`
	Platform    Platform  `json:"platform"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Preferences holds a recipient's delivery preferences: quiet hours in their
// local timezone and per-type opt-outs.
type Preferences struct {
	RecipientID   string             `json:"recipient_id"`
	QuietStart    string             `json:"quiet_start,omitempty"` // "22:00", empty = disabled
	QuietEnd      string             `json:"quiet_end,omitempty"`   // "08:00"
	Timezone      string             `json:"timezone,omitempty"`    // IANA name, empty = UTC
	DisabledTypes []NotificationType `json:"disabled_types,omitempty"`
}

// TypeDisabled reports whether the recipient opted out of the given type.
func (p *Preferences) TypeDisabled(t NotificationType) bool {
	if p == nil {
		return false
	}
	for _, d := range p.DisabledTypes {
		if d == t {
			return true
		}
	}
	return false
}

// QuietWindow returns the recipient's quiet-hours window, or an empty
// (disabled) window when none is configured.
func (p *Preferences) QuietWindow() QuietWindow {
	if p == nil {
		return QuietWindow{}
	}
	return QuietWindow{Start: p.QuietStart, End: p.QuietEnd, Timezone: p.Timezone}
}
