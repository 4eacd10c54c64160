package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/userpreference/platform/shared/cqrs"
	"github.com/userpreference/platform/shared/middleware"
	"github.com/userpreference/platform/workflow-worker/internal/repository"
	"github.com/userpreference/platform/workflow-worker/internal/workflow"
)

// WorkflowQuerier defines the read operations used by WorkflowHandler.
type WorkflowQuerier interface {
	GetRun(context.Context, cqrs.GetWorkflowRunQuery) (*workflow.Run, error)
	ListAuditEntries(context.Context, cqrs.ListAuditEntriesQuery) ([]*repository.AuditEntry, error)
	GetAnalytics(context.Context) (*repository.AnalyticsSummary, error)
}

type WorkflowHandler struct {
	queries WorkflowQuerier
}

func NewWorkflowHandler(queries WorkflowQuerier) *WorkflowHandler {
	return &WorkflowHandler{queries: queries}
}

func (h *WorkflowHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/runs/:runId", h.GetRun)
	rg.GET("/audit/:userId", h.ListAuditEntries)
	rg.GET("/analytics", h.GetAnalytics)
}

func (h *WorkflowHandler) GetRun(c *gin.Context) {
	run, err := h.queries.GetRun(c.Request.Context(), cqrs.GetWorkflowRunQuery{RunID: c.Param("runId")})
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while retrieving the workflow run")
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *WorkflowHandler) ListAuditEntries(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			middleware.RespondWithError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.queries.ListAuditEntries(c.Request.Context(), cqrs.ListAuditEntriesQuery{
		UserID: c.Param("userId"),
		Limit:  limit,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while retrieving the audit trail")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *WorkflowHandler) GetAnalytics(c *gin.Context) {
	summary, err := h.queries.GetAnalytics(c.Request.Context())
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while retrieving analytics")
		return
	}
	c.JSON(http.StatusOK, summary)
}
