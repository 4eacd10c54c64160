package query

import (
	"context"
	"strings"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/cqrs"
	"github.com/userpreference/platform/shared/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500

	// scanFactor bounds how many stored records a filtered list inspects.
	scanFactor = 10
)

type PreferenceReader interface {
	FindLatestByUserID(ctx context.Context, userID string) (*models.Preference, error)
	Query(ctx context.Context, userID string, limit int) ([]*models.Preference, error)
}

// PreferenceQueryService answers reads straight from the document store.
type PreferenceQueryService struct {
	reader PreferenceReader
}

func NewPreferenceQueryService(reader PreferenceReader) *PreferenceQueryService {
	return &PreferenceQueryService{reader: reader}
}

// GetPreference returns the most recently updated record of the user.
func (s *PreferenceQueryService) GetPreference(ctx context.Context, q cqrs.GetPreferenceQuery) (*models.Preference, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, apperrors.Validation("userId is required")
	}
	return s.reader.FindLatestByUserID(ctx, q.UserID)
}

// ListPreferences returns up to q.Limit records, newest first, that belong to
// q.UserID (when set) and satisfy q.Filter (when set).
func (s *PreferenceQueryService) ListPreferences(ctx context.Context, q cqrs.ListPreferencesQuery) ([]*models.Preference, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		return nil, apperrors.Validation("limit must not exceed 500")
	}

	var filter *Filter
	if strings.TrimSpace(q.Filter) != "" {
		var err error
		if filter, err = CompileFilter(q.Filter); err != nil {
			return nil, err
		}
	}

	fetch := limit
	if filter != nil {
		fetch = limit * scanFactor
	}
	records, err := s.reader.Query(ctx, q.UserID, fetch)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Preference, 0, len(records))
	for _, p := range records {
		if filter != nil {
			ok, err := filter.Match(p)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		result = append(result, p)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}
