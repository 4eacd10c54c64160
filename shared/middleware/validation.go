package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/userpreference/platform/shared/apperrors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type BadRequestErrorResponse struct {
	Message string            `json:"message"`
	Details []ValidationError `json:"details"`
}

func ValidateRequest(obj any) []ValidationError {
	var validationErrors []ValidationError

	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []ValidationError{{Field: "", Message: err.Error(), Type: "invalid"}}
	}

	for _, err := range fieldErrors {
		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: getErrorMsg(err),
			Type:    err.Tag(),
		})
	}

	return validationErrors
}

func getErrorMsg(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "notblank":
		return "This field must not be blank"
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "gt":
		return "Value must be greater than " + err.Param()
	case "gte":
		return "Value must be greater than or equal to " + err.Param()
	case "lte":
		return "Value must be less than or equal to " + err.Param()
	default:
		return "Invalid value"
	}
}

func RespondWithValidationError(c *gin.Context, validationErrors []ValidationError) {
	c.JSON(http.StatusBadRequest, BadRequestErrorResponse{
		Message: "Invalid request data",
		Details: validationErrors,
	})
}

func RespondWithError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"message": message,
	})
}

// RespondWithAppError renders a classified error. Server-side failures are
// logged with their cause and answered with the generic fallback message.
func RespondWithAppError(c *gin.Context, err error, fallback string) {
	code := apperrors.CodeOf(err)
	status := apperrors.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), fallback,
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		RespondWithError(c, status, fallback)
		return
	}

	var appErr *apperrors.Error
	message := fallback
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	RespondWithError(c, status, message)
}
