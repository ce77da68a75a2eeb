package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestMeta contains metadata about the current request
type RequestMeta struct {
	RequestID string
	Identity  uuid.UUID
	SessionID string
	TraceID   string
	SpanID    string
	ClientIP  string
	UserAgent string
}

// ResponseEnvelope wraps all API responses
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

// ResponseMeta contains response metadata
type ResponseMeta struct {
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	ResponseTime string    `json:"response_time,omitempty"`
}

// ErrorResponse provides detailed error information
type ErrorResponse struct {
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	Details    string              `json:"details,omitempty"`
	Fields     map[string][]string `json:"fields,omitempty"`
	TraceID    string              `json:"trace_id,omitempty"`
	RetryAfter *time.Duration      `json:"retry_after,omitempty"`
}

// BaseHandler provides common functionality for all handlers
type BaseHandler struct {
	validator    *validator.Validate
	tracer       trace.Tracer
	errorHandler ErrorHandler
	apiVersion   string
}

// NewBaseHandler creates a new base handler
func NewBaseHandler(apiVersion string) *BaseHandler {
	v := validator.New()

	// Register custom validators
	v.RegisterValidation("riskscore", validateRiskScore)
	v.RegisterValidation("uuid", validateUUID)

	return &BaseHandler{
		validator:    v,
		tracer:       otel.Tracer("api.rest"),
		errorHandler: NewErrorHandler(),
		apiVersion:   apiVersion,
	}
}

// WrapHandler creates a type-safe handler wrapper
func (h *BaseHandler) WrapHandler(
	method, pattern string,
	handler func(context.Context, *http.Request) (interface{}, error),
	opts ...HandlerOption,
) http.HandlerFunc {
	config := &handlerConfig{
		maxBodySize:   1 << 20, // 1MB default
		timeout:       30 * time.Second,
		successStatus: http.StatusOK,
	}
	for _, opt := range opts {
		opt(config)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := h.tracer.Start(r.Context(), fmt.Sprintf("%s %s", method, pattern),
			trace.WithAttributes(
				attribute.String("http.method", method),
				attribute.String("http.route", pattern),
			),
		)
		defer span.End()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     200,
			startTime:      start,
		}

		meta := h.extractRequestMeta(r)
		ctx = context.WithValue(ctx, contextKeyRequestMeta, meta)

		if config.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, config.timeout)
			defer cancel()
		}

		if config.maxBodySize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, config.maxBodySize)
		}

		r = r.WithContext(ctx)

		res, err := handler(ctx, r)
		if err != nil {
			span.RecordError(err)
			h.handleError(rw, meta, err)
			return
		}

		if res == nil {
			rw.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeSuccess(rw, config.successStatus, res, meta)
	}
}

// ParseAndValidate decodes the request body and validates the structure
func (h *BaseHandler) ParseAndValidate(r *http.Request, v interface{}) error {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return &ValidationError{Message: "Content-Type must be application/json"}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &ValidationError{Message: fmt.Sprintf("Request body too large (max %d bytes)", maxBytesErr.Limit)}
		}
		return &ValidationError{Message: "Failed to read request body"}
	}
	if len(body) == 0 {
		return &ValidationError{Message: "Request body is required"}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &ValidationError{
			Message: "Invalid JSON",
			Details: err.Error(),
		}
	}

	if err := h.validator.Struct(v); err != nil {
		return h.formatValidationError(err)
	}
	return nil
}

// formatValidationError converts validator errors to our format
func (h *BaseHandler) formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string][]string)

		for _, fe := range validationErrors {
			field := fe.Field()
			tag := fe.Tag()
			param := fe.Param()

			var msg string
			switch tag {
			case "required":
				msg = "This field is required"
			case "min":
				msg = fmt.Sprintf("Minimum value is %s", param)
			case "max":
				msg = fmt.Sprintf("Maximum value is %s", param)
			case "email":
				msg = "Must be a valid email address"
			case "uuid":
				msg = "Must be a valid UUID"
			case "riskscore":
				msg = "Must be a risk score within [0, 1]"
			case "oneof":
				msg = fmt.Sprintf("Must be one of: %s", param)
			default:
				msg = fmt.Sprintf("Failed %s validation", tag)
			}

			fields[field] = append(fields[field], msg)
		}

		return &ValidationError{
			Message: "Validation failed",
			Fields:  fields,
		}
	}

	return &ValidationError{
		Message: "Validation error",
		Details: err.Error(),
	}
}

// writeSuccess writes a successful response
func (h *BaseHandler) writeSuccess(w *responseWriter, status int, data interface{}, meta *RequestMeta) {
	response := ResponseEnvelope{
		Success: true,
		Data:    data,
		Meta: ResponseMeta{
			RequestID:    meta.RequestID,
			Timestamp:    time.Now().UTC(),
			Version:      h.apiVersion,
			ResponseTime: time.Since(w.startTime).String(),
		},
	}
	h.writeJSON(w, status, response)
}

// writeError writes an error response
func (h *BaseHandler) writeError(w *responseWriter, meta *RequestMeta, status int, code, message, details string, fields map[string][]string) {
	errorResp := &ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
		Fields:  fields,
		TraceID: meta.TraceID,
	}

	if status == http.StatusTooManyRequests {
		retryAfter := time.Minute
		errorResp.RetryAfter = &retryAfter
		w.Header().Set("Retry-After", "60")
	}

	response := ResponseEnvelope{
		Success: false,
		Error:   errorResp,
		Meta: ResponseMeta{
			RequestID:    meta.RequestID,
			Timestamp:    time.Now().UTC(),
			Version:      h.apiVersion,
			ResponseTime: time.Since(w.startTime).String(),
		},
	}
	h.writeJSON(w, status, response)
}

// writeJSON writes JSON response with proper headers
func (h *BaseHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(true)
	encoder.Encode(v)
}

// handleError converts domain errors to HTTP responses
func (h *BaseHandler) handleError(w *responseWriter, meta *RequestMeta, err error) {
	status, code, message, details := h.errorHandler.HandleError(err)

	var fields map[string][]string
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		fields = validationErr.Fields
	}

	h.writeError(w, meta, status, code, message, details, fields)
}

// Helper methods

func (h *BaseHandler) extractRequestMeta(r *http.Request) *RequestMeta {
	meta := &RequestMeta{
		RequestID: r.Header.Get("X-Request-ID"),
		ClientIP:  extractClientIP(r),
		UserAgent: r.UserAgent(),
	}

	if meta.RequestID == "" {
		meta.RequestID = uuid.New().String()
	}

	// Set by the auth middleware on protected routes
	if identity, ok := r.Context().Value(contextKeyIdentity).(uuid.UUID); ok {
		meta.Identity = identity
	}
	if sessionID, ok := r.Context().Value(contextKeySessionID).(string); ok {
		meta.SessionID = sessionID
	}

	if span := trace.SpanFromContext(r.Context()); span.SpanContext().IsValid() {
		meta.TraceID = span.SpanContext().TraceID().String()
		meta.SpanID = span.SpanContext().SpanID().String()
	}

	return meta
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colon := strings.LastIndex(ip, ":"); colon != -1 {
		ip = ip[:colon]
	}
	return ip
}

// Custom validators

func validateRiskScore(fl validator.FieldLevel) bool {
	score := fl.Field().Float()
	return score >= 0 && score <= 1
}

func validateUUID(fl validator.FieldLevel) bool {
	_, err := uuid.Parse(fl.Field().String())
	return err == nil
}

// Context keys
type contextKey string

const (
	contextKeyRequestMeta contextKey = "request_meta"
	contextKeyIdentity    contextKey = "identity"
	contextKeySessionID   contextKey = "session_id"
)

// HandlerOption configures handler behavior
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	maxBodySize   int64
	timeout       time.Duration
	successStatus int
}

func WithMaxBodySize(size int64) HandlerOption {
	return func(c *handlerConfig) { c.maxBodySize = size }
}

func WithTimeout(d time.Duration) HandlerOption {
	return func(c *handlerConfig) { c.timeout = d }
}

func WithSuccessStatus(status int) HandlerOption {
	return func(c *handlerConfig) { c.successStatus = status }
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
	Details string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Enhanced response writer
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	startTime  time.Time
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.ResponseWriter.WriteHeader(code)
		rw.written = true
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
