package app

import (
	"errors"
	"fmt"
	"net/http"

	"stagedir/api/internal/authpw"
	"stagedir/api/internal/pathtree"
	"stagedir/api/internal/store"
	"stagedir/api/internal/taxonomy"
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

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// toDomainError maps sentinel errors from the lower layers onto HTTP-shaped
// domain errors. Anything unmapped stays a 500 and keeps its cause out of
// the response body.
func toDomainError(err error) *DomainError {
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain
	}
	switch {
	case errors.Is(err, pathtree.ErrInvalidPath):
		return errValidation(err.Error())
	case errors.Is(err, taxonomy.ErrInvalidMove):
		return errValidation(err.Error())
	case errors.Is(err, taxonomy.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return errNotFound("Not found")
	case errors.Is(err, taxonomy.ErrDuplicatePath), errors.Is(err, store.ErrDuplicate):
		return domainError(http.StatusConflict, "CONFLICT", "Already exists", nil)
	case errors.Is(err, authpw.ErrBadCredentials):
		return domainError(http.StatusUnauthorized, "BAD_CREDENTIALS", "Invalid email or password", nil)
	default:
		return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Internal error", nil)
	}
}
