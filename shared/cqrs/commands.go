package cqrs

// PreferenceFields carries the optional fields of a create or partial update.
// A nil pointer (or nil map) means "not supplied".
type PreferenceFields struct {
	Theme                *string
	Language             *string
	Timezone             *string
	NotificationsEnabled *bool
	AnalyticsEnabled     *bool
	CustomSettings       map[string]any
}

type CreatePreferenceCommand struct {
	UserID string
	Fields PreferenceFields
}

type UpdatePreferenceCommand struct {
	UserID string
	Fields PreferenceFields
	// IfMatch, when set, must equal the stored etag.
	IfMatch string
	// CreateIfMissing turns a missing record into a create with the same fields.
	CreateIfMissing bool
}

type DeletePreferenceCommand struct {
	UserID string
}

type IssueTokenCommand struct {
	ClientID     string
	ClientSecret string
}

type RefreshTokenCommand struct {
	Token string
}
