package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/userpreference/platform/shared/cqrs"
	"github.com/userpreference/platform/shared/middleware"
)

// TokenQuerier defines the operations used by TokenHandler.
type TokenQuerier interface {
	IssueToken(cqrs.IssueTokenCommand) (string, error)
	RefreshToken(cqrs.RefreshTokenCommand) (string, error)
}

type TokenHandler struct {
	queries TokenQuerier
}

type IssueTokenRequest struct {
	ClientID     string `json:"clientId" validate:"required,notblank"`
	ClientSecret string `json:"clientSecret" validate:"required"`
}

type RefreshTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

func NewTokenHandler(queries TokenQuerier) *TokenHandler {
	return &TokenHandler{queries: queries}
}

func (h *TokenHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/token", h.IssueToken)
	rg.POST("/refresh", h.RefreshToken)
}

func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	token, err := h.queries.IssueToken(cqrs.IssueTokenCommand{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while issuing the token")
		return
	}

	c.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (h *TokenHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	token, err := h.queries.RefreshToken(cqrs.RefreshTokenCommand{Token: req.Token})
	if err != nil {
		middleware.RespondWithAppError(c, err, "An error occurred while refreshing the token")
		return
	}

	c.JSON(http.StatusOK, TokenResponse{Token: token})
}
