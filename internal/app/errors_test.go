package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"stagedir/api/internal/authpw"
	"stagedir/api/internal/pathtree"
	"stagedir/api/internal/store"
	"stagedir/api/internal/taxonomy"
)

func TestToDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid path", pathtree.ErrInvalidPath, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"invalid move", taxonomy.ErrInvalidMove, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"taxonomy missing", taxonomy.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"row missing", store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"duplicate path", taxonomy.ErrDuplicatePath, http.StatusConflict, "CONFLICT"},
		{"duplicate row", store.ErrDuplicate, http.StatusConflict, "CONFLICT"},
		{"bad credentials", authpw.ErrBadCredentials, http.StatusUnauthorized, "BAD_CREDENTIALS"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			domain := toDomainError(tt.err)
			if domain.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", domain.Status, tt.wantStatus)
			}
			if domain.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", domain.Code, tt.wantCode)
			}
		})
	}
}

func TestToDomainErrorUnwrapsWrappedSentinels(t *testing.T) {
	wrapped := fmt.Errorf("get node: %w", taxonomy.ErrNotFound)
	if domain := toDomainError(wrapped); domain.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", domain.Status)
	}
}

func TestToDomainErrorPassesDomainErrorsThrough(t *testing.T) {
	original := errForbidden()
	if domain := toDomainError(fmt.Errorf("denied: %w", original)); domain != original {
		t.Errorf("expected the original domain error, got %+v", domain)
	}
}

func TestInternalCauseStaysOutOfResponse(t *testing.T) {
	domain := toDomainError(errors.New("pq: password authentication failed"))
	if domain.Message != "Internal error" {
		t.Errorf("message = %q, leaks the cause", domain.Message)
	}
}
