package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	domainErrors "github.com/davidleathers/adaptive-auth-backend/internal/domain/errors"
)

// ErrorHandler maps errors to HTTP status codes and response payloads
type ErrorHandler interface {
	HandleError(err error) (status int, code, message, details string)
	IsRetryable(err error) bool
}

// DefaultErrorHandler implements ErrorHandler with comprehensive error mapping
type DefaultErrorHandler struct {
	debugMode bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{
		debugMode: false,
	}
}

// HandleError converts various error types to HTTP responses
func (h *DefaultErrorHandler) HandleError(err error) (status int, code, message, details string) {
	if err == nil {
		return http.StatusOK, "", "", ""
	}

	// Domain errors carry their own status code
	var domainErr *domainErrors.AppError
	if errors.As(err, &domainErr) {
		return h.handleDomainError(domainErr)
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return h.handleValidationError(validationErr)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Resource not found", ""
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout, "REQUEST_CANCELED", "Request was canceled", ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, "REQUEST_TIMEOUT", "Request timed out", ""
	}

	var jsonErr *json.SyntaxError
	if errors.As(err, &jsonErr) {
		return http.StatusBadRequest, "INVALID_JSON", "Invalid JSON syntax",
			fmt.Sprintf("Error at position %d", jsonErr.Offset)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return http.StatusBadRequest, "TYPE_MISMATCH",
			fmt.Sprintf("Invalid type for field '%s'", typeErr.Field),
			fmt.Sprintf("Expected %s but got %s", typeErr.Type, typeErr.Value)
	}

	if h.isNetworkError(err) {
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Upstream service unavailable", ""
	}

	details = ""
	if h.debugMode {
		details = err.Error()
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred", details
}

// IsRetryable determines if an error is retryable
func (h *DefaultErrorHandler) IsRetryable(err error) bool {
	var domainErr *domainErrors.AppError
	if errors.As(err, &domainErr) && domainErr.Retryable {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return h.isNetworkError(err)
}

func (h *DefaultErrorHandler) handleDomainError(err *domainErrors.AppError) (int, string, string, string) {
	details := ""
	if h.debugMode && err.Details != nil {
		detailBytes, _ := json.Marshal(err.Details)
		details = string(detailBytes)
	}
	return err.StatusCode, err.Code, err.Message, details
}

func (h *DefaultErrorHandler) handleValidationError(err *ValidationError) (int, string, string, string) {
	details := err.Details
	if details == "" && len(err.Fields) > 0 {
		var fieldErrors []string
		for field, messages := range err.Fields {
			fieldErrors = append(fieldErrors, fmt.Sprintf("%s: %s", field, strings.Join(messages, "; ")))
		}
		details = strings.Join(fieldErrors, ", ")
	}
	return http.StatusBadRequest, "VALIDATION_ERROR", err.Message, details
}

func (h *DefaultErrorHandler) isNetworkError(err error) bool {
	errStr := strings.ToLower(err.Error())
	networkErrors := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset by peer",
		"broken pipe",
	}
	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}
	return false
}
