package models

import "time"

const (
	DefaultTheme    = "light"
	DefaultLanguage = "en"
	DefaultTimezone = "UTC"
)

// Preference is the per-user settings document. Its JSON form is both the API
// representation and the stored document.
type Preference struct {
	ID                   string         `json:"id"`
	UserID               string         `json:"userId"`
	Theme                string         `json:"theme"`
	Language             string         `json:"language"`
	Timezone             string         `json:"timezone"`
	NotificationsEnabled bool           `json:"notificationsEnabled"`
	AnalyticsEnabled     bool           `json:"analyticsEnabled"`
	CustomSettings       map[string]any `json:"customSettings"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
	ETag                 string         `json:"etag"`
}

// Defaults are the values a new record starts from when a field is not supplied.
type Defaults struct {
	Theme    string
	Language string
	Timezone string
}

func BuiltinDefaults() Defaults {
	return Defaults{Theme: DefaultTheme, Language: DefaultLanguage, Timezone: DefaultTimezone}
}

// NewPreference returns a record populated with defaults. Both flags start enabled.
func NewPreference(id, userID string, d Defaults, now time.Time) *Preference {
	now = now.UTC()
	return &Preference{
		ID:                   id,
		UserID:               userID,
		Theme:                d.Theme,
		Language:             d.Language,
		Timezone:             d.Timezone,
		NotificationsEnabled: true,
		AnalyticsEnabled:     true,
		CustomSettings:       map[string]any{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Touch refreshes UpdatedAt so that it is strictly after the previous value,
// even when the clock has not advanced.
func (p *Preference) Touch(now time.Time) {
	now = now.UTC()
	if !now.After(p.UpdatedAt) {
		now = p.UpdatedAt.Add(time.Microsecond)
	}
	p.UpdatedAt = now
}

// Clone returns a deep copy, so a snapshot handed to an event or workflow is
// not affected by later mutation.
func (p *Preference) Clone() *Preference {
	if p == nil {
		return nil
	}
	c := *p
	if p.CustomSettings != nil {
		c.CustomSettings = make(map[string]any, len(p.CustomSettings))
		for k, v := range p.CustomSettings {
			c.CustomSettings[k] = v
		}
	}
	return &c
}

// PreferenceDeleted is the minimal payload published when a user's
// preferences are removed.
type PreferenceDeleted struct {
	UserID string `json:"userId"`
}
