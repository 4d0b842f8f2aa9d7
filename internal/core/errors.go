package core

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidBody is returned when a request body has the wrong JSON shape.
var ErrInvalidBody = errors.New("invalid request body")

// ValidationError describes the first rule a record failed.
type ValidationError struct {
	Message string
}

// NewValidationError wraps a rule violation message.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IndexedError ties a validation failure to its position in a batch.
type IndexedError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchValidationError collects every failing record of a batch.
type BatchValidationError struct {
	Failures []IndexedError
}

func (e *BatchValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, "["+strconv.Itoa(f.Index)+"] "+f.Error)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// First returns the message of the lowest-index failure.
func (e *BatchValidationError) First() string {
	if len(e.Failures) == 0 {
		return ""
	}
	return e.Failures[0].Error
}
