// Package http provides the JSON API server and its handlers.
//
// This file implements the Builder Pattern for JSON envelope responses.
// Every API response carries a "success" flag plus operation-specific
// fields.

package http

import (
	"encoding/json"
	"net/http"

	"vfcash/internal/core"
)

// JSONResponseBuilder provides a fluent API for building JSON envelope responses.
type JSONResponseBuilder struct {
	statusCode int
	fields     map[string]any
	headers    map[string]string
}

// NewJSONResponse creates a successful 200 response builder.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		fields:     map[string]any{"success": true},
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Field sets a top-level envelope field.
func (b *JSONResponseBuilder) Field(name string, value any) *JSONResponseBuilder {
	b.fields[name] = value
	return b
}

// Message sets the human readable message field.
func (b *JSONResponseBuilder) Message(msg string) *JSONResponseBuilder {
	return b.Field("message", msg)
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Fail marks the envelope unsuccessful with the given error message.
func (b *JSONResponseBuilder) Fail(msg string) *JSONResponseBuilder {
	b.fields["success"] = false
	b.fields["error"] = msg
	return b
}

// Details attaches per-record batch failures.
func (b *JSONResponseBuilder) Details(failures []core.IndexedError) *JSONResponseBuilder {
	return b.Field("details", failures)
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(b.fields)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"Internal server error"}`))
		return
	}
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(body)
}

// ErrorResponse creates a failed envelope with the given status.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Fail(message)
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// MethodNotAllowedError creates a 405 Method Not Allowed error response.
func MethodNotAllowedError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, "Method not allowed")
}

// TooManyRequestsError creates a 429 response.
func TooManyRequestsError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}
