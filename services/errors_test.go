package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, ErrorCode(""), domainErr.Code)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeNotFound,
				Message: "application not found",
				Err:     errors.New("db error"),
			},
			wantMsg: "not_found: application not found (db error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same type, target without code",
			err:    ErrTenantAccessViolation,
			target: ErrForbidden,
			want:   true,
		},
		{
			name:   "same type and code",
			err:    NewDuplicateApplicationError("com.acme", "1.0", uuid.New()),
			target: ErrDuplicateApplication,
			want:   true,
		},
		{
			name:   "same type, different code",
			err:    ErrSuperAdminRequired,
			target: ErrTenantAccessViolation,
			want:   false,
		},
		{
			name:   "uncoded error against coded target",
			err:    NewDomainError(ErrorTypeConflict, "conflict", nil),
			target: ErrDuplicateApplication,
			want:   false,
		},
		{
			name:   "different error type",
			err:    NewDomainError(ErrorTypeValidation, "validation", nil),
			target: ErrApplicationNotFound,
			want:   false,
		},
		{
			name:   "wrapped coded error",
			err:    fmt.Errorf("insert: %w", NewReferenceExistsError(uuid.New(), "configurations")),
			target: ErrReferenceExists,
			want:   true,
		},
		{
			name:   "not a domain error",
			err:    ErrApplicationNotFound,
			target: errors.New("regular error"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)

	err.WithDetail("field", "pkg").WithDetail("value", "")

	assert.Equal(t, "pkg", err.Details["field"])
	assert.Equal(t, "", err.Details["value"])
}

func TestDetailedConstructors(t *testing.T) {
	owner := uuid.New()

	t.Run("duplicate application", func(t *testing.T) {
		err := NewDuplicateApplicationError("com.acme.app", "1.0", owner)
		assert.Equal(t, CodeDuplicateApplication, err.Code)
		assert.Equal(t, "com.acme.app", err.Details["pkg"])
		assert.Equal(t, "1.0", err.Details["version"])
		assert.Equal(t, owner.String(), err.Details["tenant_id"])
	})

	t.Run("version package mismatch", func(t *testing.T) {
		err := NewVersionPackageMismatchError("com.evil", "com.acme.app")
		assert.True(t, errors.Is(err, ErrVersionPackageMismatch))
		assert.Equal(t, "com.evil", err.Details["uploaded_pkg"])
		assert.Equal(t, "com.acme.app", err.Details["target_pkg"])
	})

	t.Run("artifact inspection keeps output", func(t *testing.T) {
		cause := errors.New("exit status 1")
		err := NewArtifactInspectionError(1, []string{"ERROR: dump failed"}, cause)
		assert.Equal(t, "could not analyze file", err.Message)
		assert.Equal(t, 1, err.Details["exit_code"])
		assert.Equal(t, []string{"ERROR: dump failed"}, err.Details["stderr"])
		assert.ErrorIs(t, err, cause)
		assert.True(t, IsExternalError(err))
	})

	t.Run("inconsistent state", func(t *testing.T) {
		err := NewInconsistentStateError("com.acme.app", 2)
		assert.True(t, IsInternalError(err))
		assert.Equal(t, 2, err.Details["count"])
	})

	t.Run("constructors do not mutate sentinels", func(t *testing.T) {
		_ = NewReferenceExistsError(uuid.New(), "configurations")
		assert.Empty(t, ErrReferenceExists.Details)
	})
}

func TestTypeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"not found", ErrVersionNotFound, IsNotFoundError, true},
		{"wrapped not found", fmt.Errorf("wrapped: %w", ErrConfigurationNotFound), IsNotFoundError, true},
		{"nil is not found", nil, IsNotFoundError, false},
		{"validation", ErrInvalidLinkAction, IsValidationError, true},
		{"validation on regular error", errors.New("regular"), IsValidationError, false},
		{"unauthorized", ErrAnonymousAccess, IsUnauthorizedError, true},
		{"forbidden", ErrDeletionProhibited, IsForbiddenError, true},
		{"forbidden on conflict", ErrAlreadyCommon, IsForbiddenError, false},
		{"conflict", ErrCommonApplicationExists, IsConflictError, true},
		{"internal", ErrInconsistentState, IsInternalError, true},
		{"external", ErrArtifactInspectionFailed, IsExternalError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestGetErrorAccessors(t *testing.T) {
	err := fmt.Errorf("ctx: %w", NewDuplicateApplicationError("p", "v", uuid.Nil))

	assert.Equal(t, ErrorTypeConflict, GetErrorType(err))
	assert.Equal(t, CodeDuplicateApplication, GetErrorCode(err))
	require.NotNil(t, GetErrorDetails(err))
	assert.Equal(t, "p", GetErrorDetails(err)["pkg"])

	plain := errors.New("plain")
	assert.Equal(t, ErrorType(""), GetErrorType(plain))
	assert.Equal(t, ErrorCode(""), GetErrorCode(plain))
	assert.Nil(t, GetErrorDetails(plain))
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("boom")

	err := WrapInternal("failed to load", base)
	assert.True(t, IsInternalError(err))
	assert.ErrorIs(t, err, base)

	err = WrapError(ErrorTypeValidation, "bad", base)
	assert.True(t, IsValidationError(err))
}
