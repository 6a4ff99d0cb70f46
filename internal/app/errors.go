package app

import (
	"errors"
	"fmt"
	"net/http"

	"kanban/api/internal/auth"
	"kanban/api/internal/orderkey"
	"kanban/api/internal/reorder"
	"kanban/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

// mapError turns service errors into the HTTP status, code and message
// written to clients. Unknown errors become a bare 500.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.Is(err, reorder.ErrInvalidAnchor):
		return http.StatusUnprocessableEntity, "INVALID_ANCHOR", "Anchors do not resolve in the target list", nil
	case errors.Is(err, reorder.ErrInvalidMove):
		return http.StatusConflict, "INVALID_MOVE", "Move is not allowed", nil
	case errors.Is(err, reorder.ErrPreconditionFailed), errors.Is(err, store.ErrVersionMismatch):
		return http.StatusPreconditionFailed, "PRECONDITION_FAILED", "Item changed since it was read", nil
	case errors.Is(err, reorder.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Too many concurrent edits, retry later", nil
	case errors.Is(err, orderkey.ErrInvalidKey):
		return http.StatusInternalServerError, "INVALID_KEY", "Stored order key is malformed", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
