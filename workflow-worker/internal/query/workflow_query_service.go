package query

import (
	"context"
	"strings"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/cqrs"
	"github.com/userpreference/platform/workflow-worker/internal/repository"
	"github.com/userpreference/platform/workflow-worker/internal/workflow"
)

const (
	defaultAuditLimit = 20
	maxAuditLimit     = 200
)

type RunReader interface {
	Get(ctx context.Context, id string) (*workflow.Run, bool, error)
}

type AuditReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*repository.AuditEntry, error)
}

type AnalyticsReader interface {
	Summary(ctx context.Context) (*repository.AnalyticsSummary, error)
}

// WorkflowQueryService serves the read side of the worker: run records, the
// audit trail and the analytics aggregate.
type WorkflowQueryService struct {
	runs      RunReader
	audit     AuditReader
	analytics AnalyticsReader
}

func NewWorkflowQueryService(runs RunReader, audit AuditReader, analytics AnalyticsReader) *WorkflowQueryService {
	return &WorkflowQueryService{runs: runs, audit: audit, analytics: analytics}
}

func (s *WorkflowQueryService) GetRun(ctx context.Context, q cqrs.GetWorkflowRunQuery) (*workflow.Run, error) {
	if strings.TrimSpace(q.RunID) == "" {
		return nil, apperrors.Validation("runId is required")
	}
	run, found, err := s.runs.Get(ctx, q.RunID)
	if err != nil {
		return nil, apperrors.Dependency("failed to load workflow run", err)
	}
	if !found {
		return nil, apperrors.NotFound("Workflow run not found")
	}
	return run, nil
}

func (s *WorkflowQueryService) ListAuditEntries(ctx context.Context, q cqrs.ListAuditEntriesQuery) ([]*repository.AuditEntry, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, apperrors.Validation("userId is required")
	}
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	entries, err := s.audit.ListByUser(ctx, q.UserID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*repository.AuditEntry{}
	}
	return entries, nil
}

func (s *WorkflowQueryService) GetAnalytics(ctx context.Context) (*repository.AnalyticsSummary, error) {
	return s.analytics.Summary(ctx)
}
