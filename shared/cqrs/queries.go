package cqrs

// GetPreferenceQuery fetches the current record of a user.
type GetPreferenceQuery struct {
	UserID string
}

// ListPreferencesQuery narrows records by owner and an optional CEL expression
// evaluated against each record, e.g. `theme == "dark" && analyticsEnabled`.
type ListPreferencesQuery struct {
	UserID string
	Filter string
	Limit  int
}

// GetWorkflowRunQuery fetches a single update workflow run.
type GetWorkflowRunQuery struct {
	RunID string
}

// ListAuditEntriesQuery fetches the newest audit entries written for a user.
type ListAuditEntriesQuery struct {
	UserID string
	Limit  int
}
