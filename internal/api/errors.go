package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

// NewError creates a new APIError with the given parameters
func NewError(statusCode int, errorCode, message string) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

var (
	ErrNotLoaded        = NewError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "incident data is not loaded yet")
	ErrNoModel          = NewError(http.StatusServiceUnavailable, "MODEL_UNAVAILABLE", "severity model is not trained")
	ErrReloadInProgress = NewError(http.StatusConflict, "RELOAD_IN_PROGRESS", "a reload is already running")
)

func invalidRequest(msg string) *APIError {
	return NewError(http.StatusBadRequest, "INVALID_REQUEST", msg)
}

func validationFailed(err error) *APIError {
	apiErr := NewError(http.StatusBadRequest, "VALIDATION_FAILED", "request validation failed")
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldError{Field: fe.Namespace(), Rule: fe.Tag()})
		}
		apiErr.Details = details
	}
	return apiErr
}

// ErrorHandler renders every error as an APIError body.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *APIError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &httpErr):
			apiErr = NewError(httpErr.Code, codeFor(httpErr.Code), http.StatusText(httpErr.Code))
			if msg, ok := httpErr.Message.(string); ok && msg != "" {
				apiErr.Message = msg
			}
		default:
			apiErr = NewError(http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}

		if apiErr.StatusCode >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("path", c.Path()),
				slog.String("error_code", apiErr.ErrorCode),
				slog.Any("error", err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(apiErr.StatusCode)
		} else {
			err = c.JSON(apiErr.StatusCode, apiErr)
		}
		if err != nil {
			logger.Error("failed to write error response", slog.Any("error", err))
		}
	}
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "REQUEST_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	}
	if status >= http.StatusInternalServerError {
		return "INTERNAL_ERROR"
	}
	return "REQUEST_FAILED"
}
