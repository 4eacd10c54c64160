package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/cqrs"
	"github.com/userpreference/platform/shared/middleware"
	"github.com/userpreference/platform/shared/models"
)

// PreferenceCommander defines the write-side operations used by PreferenceHandler.
type PreferenceCommander interface {
	CreatePreference(context.Context, cqrs.CreatePreferenceCommand) (*models.Preference, error)
	UpdatePreference(context.Context, cqrs.UpdatePreferenceCommand) (*models.Preference, error)
	DeletePreference(context.Context, cqrs.DeletePreferenceCommand) (bool, error)
}

// PreferenceQuerier defines the read-side operations used by PreferenceHandler.
type PreferenceQuerier interface {
	GetPreference(context.Context, cqrs.GetPreferenceQuery) (*models.Preference, error)
	ListPreferences(context.Context, cqrs.ListPreferencesQuery) ([]*models.Preference, error)
}

// PreferenceHandler routes requests to the command or query service as appropriate.
type PreferenceHandler struct {
	commands PreferenceCommander
	queries  PreferenceQuerier
}

type CreatePreferenceRequest struct {
	UserID               string         `json:"userId" validate:"required,notblank,max=128"`
	Theme                *string        `json:"theme" validate:"omitempty,notblank,max=64"`
	Language             *string        `json:"language" validate:"omitempty,notblank,max=35"`
	Timezone             *string        `json:"timezone" validate:"omitempty,notblank,max=64"`
	NotificationsEnabled *bool          `json:"notificationsEnabled"`
	AnalyticsEnabled     *bool          `json:"analyticsEnabled"`
	CustomSettings       map[string]any `json:"customSettings"`
}

// UpdatePreferenceRequest is a partial update: absent fields stay unchanged.
type UpdatePreferenceRequest struct {
	Theme                *string        `json:"theme" validate:"omitempty,notblank,max=64"`
	Language             *string        `json:"language" validate:"omitempty,notblank,max=35"`
	Timezone             *string        `json:"timezone" validate:"omitempty,notblank,max=64"`
	NotificationsEnabled *bool          `json:"notificationsEnabled"`
	AnalyticsEnabled     *bool          `json:"analyticsEnabled"`
	CustomSettings       map[string]any `json:"customSettings"`
}

func (r UpdatePreferenceRequest) fields() cqrs.PreferenceFields {
	return cqrs.PreferenceFields{
		Theme:                r.Theme,
		Language:             r.Language,
		Timezone:             r.Timezone,
		NotificationsEnabled: r.NotificationsEnabled,
		AnalyticsEnabled:     r.AnalyticsEnabled,
		CustomSettings:       r.CustomSettings,
	}
}

type ListPreferencesResponse struct {
	Preferences []*models.Preference `json:"preferences"`
	Count       int                  `json:"count"`
}

func NewPreferenceHandler(commands PreferenceCommander, queries PreferenceQuerier) *PreferenceHandler {
	return &PreferenceHandler{commands: commands, queries: queries}
}

// RegisterRoutes mounts the preference endpoints on rg. The /me routes are
// static and take precedence over /:userId.
func (h *PreferenceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.CreatePreference)
	rg.GET("", h.ListPreferences)
	rg.GET("/me", h.GetMyPreference)
	rg.PUT("/me", h.UpdateMyPreference)
	rg.GET("/:userId", h.GetPreference)
	rg.PUT("/:userId", h.UpdatePreference)
	rg.DELETE("/:userId", h.DeletePreference)
}

func (h *PreferenceHandler) CreatePreference(c *gin.Context) {
	var req CreatePreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	p, err := h.commands.CreatePreference(c.Request.Context(), cqrs.CreatePreferenceCommand{
		UserID: req.UserID,
		Fields: UpdatePreferenceRequest{
			Theme:                req.Theme,
			Language:             req.Language,
			Timezone:             req.Timezone,
			NotificationsEnabled: req.NotificationsEnabled,
			AnalyticsEnabled:     req.AnalyticsEnabled,
			CustomSettings:       req.CustomSettings,
		}.fields(),
	})
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while creating preferences")
		return
	}

	c.Header("Location", "/v1/preferences/"+p.UserID)
	respondWithPreference(c, http.StatusCreated, p)
}

func (h *PreferenceHandler) ListPreferences(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			middleware.RespondWithError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.queries.ListPreferences(c.Request.Context(), cqrs.ListPreferencesQuery{
		UserID: c.Query("userId"),
		Filter: c.Query("filter"),
		Limit:  limit,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while listing preferences")
		return
	}
	if records == nil {
		records = []*models.Preference{}
	}

	c.JSON(http.StatusOK, ListPreferencesResponse{Preferences: records, Count: len(records)})
}

func (h *PreferenceHandler) GetPreference(c *gin.Context) {
	p, err := h.queries.GetPreference(c.Request.Context(), cqrs.GetPreferenceQuery{UserID: c.Param("userId")})
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while retrieving preferences")
		return
	}
	respondWithPreference(c, http.StatusOK, p)
}

// GetMyPreference returns the caller's record, creating one with defaults on
// first access.
func (h *PreferenceHandler) GetMyPreference(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	p, err := h.queries.GetPreference(ctx, cqrs.GetPreferenceQuery{UserID: userID})
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		p, err = h.commands.CreatePreference(ctx, cqrs.CreatePreferenceCommand{UserID: userID})
	}
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while retrieving preferences")
		return
	}
	respondWithPreference(c, http.StatusOK, p)
}

func (h *PreferenceHandler) UpdatePreference(c *gin.Context) {
	h.update(c, c.Param("userId"), false)
}

// UpdateMyPreference updates the caller's record, creating it from the
// supplied fields when it does not exist.
func (h *PreferenceHandler) UpdateMyPreference(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	h.update(c, userID, true)
}

func (h *PreferenceHandler) update(c *gin.Context, userID string, createIfMissing bool) {
	var req UpdatePreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	p, err := h.commands.UpdatePreference(c.Request.Context(), cqrs.UpdatePreferenceCommand{
		UserID:          userID,
		Fields:          req.fields(),
		IfMatch:         ifMatch(c),
		CreateIfMissing: createIfMissing,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while updating preferences")
		return
	}
	respondWithPreference(c, http.StatusOK, p)
}

func (h *PreferenceHandler) DeletePreference(c *gin.Context) {
	userID := c.Param("userId")
	removed, err := h.commands.DeletePreference(c.Request.Context(), cqrs.DeletePreferenceCommand{UserID: userID})
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while deleting preferences")
		return
	}
	if !removed {
		middleware.RespondWithError(c, http.StatusNotFound, "Preferences not found for user "+userID)
		return
	}
	c.Status(http.StatusNoContent)
}

func currentUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok || userID == "" {
		middleware.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token")
		return "", false
	}
	return userID, true
}

// ifMatch returns the If-Match precondition. A wildcard matches any version
// and is treated as absent.
func ifMatch(c *gin.Context) string {
	v := strings.TrimSpace(c.GetHeader("If-Match"))
	if v == "*" {
		return ""
	}
	return v
}

func respondWithPreference(c *gin.Context, status int, p *models.Preference) {
	if p.ETag != "" {
		c.Header("ETag", p.ETag)
	}
	c.JSON(status, p)
}

