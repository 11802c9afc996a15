package service

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the structured failure every catalog operation returns
type Error struct {
	Status  int
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%d: %s: %s", e.Status, e.Message, e.Details)
}

func newError(status int, message string, details string) *Error {
	return &Error{Status: status, Message: message, Details: details}
}

// ValidationError rejects caller input before any upstream call
func ValidationError(message string, details string) *Error {
	return newError(http.StatusBadRequest, message, details)
}

// NotFoundError reports an unknown resource
func NotFoundError(message string, details string) *Error {
	return newError(http.StatusNotFound, message, details)
}

// UpstreamError reports a failed direct lookup against one source
func UpstreamError(message string, details string) *Error {
	return newError(http.StatusBadGateway, message, details)
}

// InternalError reports a failure of the aggregation logic itself
func InternalError(message string, details string) *Error {
	return newError(http.StatusInternalServerError, message, details)
}

// AsError converts any error into an *Error, treating unknown errors as internal
func AsError(err error) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return InternalError("internal error", err.Error())
}
