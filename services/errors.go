package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// ErrorCode distinguishes errors that share a type
type ErrorCode string

const (
	CodeDuplicateApplication     ErrorCode = "duplicate_application"
	CodeVersionPackageMismatch   ErrorCode = "version_package_mismatch"
	CodeTenantAccessViolation    ErrorCode = "tenant_access_violation"
	CodeSuperAdminRequired       ErrorCode = "super_admin_required"
	CodeDeletionProhibited       ErrorCode = "deletion_prohibited"
	CodeAnonymousAccess          ErrorCode = "anonymous_access"
	CodeReferenceExists          ErrorCode = "reference_exists"
	CodeArtifactInspectionFailed ErrorCode = "artifact_inspection_failed"
	CodeInconsistentState        ErrorCode = "inconsistent_state"
	CodeApplicationNotFound      ErrorCode = "application_not_found"
	CodeVersionNotFound          ErrorCode = "version_not_found"
	CodeConfigurationNotFound    ErrorCode = "configuration_not_found"
	CodeTenantNotFound           ErrorCode = "tenant_not_found"
	CodeCommonApplicationExists  ErrorCode = "common_application_exists"
	CodeAlreadyCommon            ErrorCode = "already_common"
	CodeInvalidLinkAction        ErrorCode = "invalid_link_action"
	CodeSystemApplication        ErrorCode = "system_application"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Errors match on Type; a target carrying a Code
// also requires the same Code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewCodedError creates a new domain error with a code
func NewCodedError(errType ErrorType, code ErrorCode, message string) *DomainError {
	e := NewDomainError(errType, message, nil)
	e.Code = code
	return e
}

// Domain error variables. Compare with errors.Is; use the constructors
// below to build instances that carry details.

var (
	// Not Found Errors
	ErrApplicationNotFound   = NewCodedError(ErrorTypeNotFound, CodeApplicationNotFound, "application not found")
	ErrVersionNotFound       = NewCodedError(ErrorTypeNotFound, CodeVersionNotFound, "application version not found")
	ErrConfigurationNotFound = NewCodedError(ErrorTypeNotFound, CodeConfigurationNotFound, "configuration not found")
	ErrTenantNotFound        = NewCodedError(ErrorTypeNotFound, CodeTenantNotFound, "tenant not found")

	// Validation Errors
	ErrInvalidInput           = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrVersionPackageMismatch = NewCodedError(ErrorTypeValidation, CodeVersionPackageMismatch, "package id of the file does not match the application")
	ErrInvalidLinkAction      = NewCodedError(ErrorTypeValidation, CodeInvalidLinkAction, "invalid link action")

	// Authorization Errors
	ErrUnauthorized    = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrAnonymousAccess = NewCodedError(ErrorTypeUnauthorized, CodeAnonymousAccess, "anonymous access is not allowed")
	ErrInvalidToken    = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)

	// Permission Errors
	ErrForbidden             = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrTenantAccessViolation = NewCodedError(ErrorTypeForbidden, CodeTenantAccessViolation, "application belongs to another tenant")
	ErrSuperAdminRequired    = NewCodedError(ErrorTypeForbidden, CodeSuperAdminRequired, "super-admin privileges required")
	ErrDeletionProhibited    = NewCodedError(ErrorTypeForbidden, CodeDeletionProhibited, "deletion is prohibited")
	ErrSystemApplication     = NewCodedError(ErrorTypeForbidden, CodeSystemApplication, "system applications cannot be deleted")

	// Conflict Errors
	ErrDuplicateApplication    = NewCodedError(ErrorTypeConflict, CodeDuplicateApplication, "application with this package and version already exists")
	ErrReferenceExists         = NewCodedError(ErrorTypeConflict, CodeReferenceExists, "entity is still referenced")
	ErrCommonApplicationExists = NewCodedError(ErrorTypeConflict, CodeCommonApplicationExists, "a common application with this package already exists")
	ErrAlreadyCommon           = NewCodedError(ErrorTypeConflict, CodeAlreadyCommon, "application is already common")

	// Internal Errors
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError     = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)
	ErrInconsistentState = NewCodedError(ErrorTypeInternal, CodeInconsistentState, "more than one application matches the package")

	// External Errors
	ErrArtifactInspectionFailed = NewCodedError(ErrorTypeExternal, CodeArtifactInspectionFailed, "could not analyze file")
)

// Constructors for errors carrying details

// NewDuplicateApplicationError reports an existing (pkg, version) owned by tenantID
func NewDuplicateApplicationError(pkg, version string, tenantID uuid.UUID) *DomainError {
	return NewCodedError(ErrorTypeConflict, CodeDuplicateApplication, ErrDuplicateApplication.Message).
		WithDetail("pkg", pkg).
		WithDetail("version", version).
		WithDetail("tenant_id", tenantID.String())
}

// NewVersionPackageMismatchError reports an artifact whose package differs from the target application
func NewVersionPackageMismatchError(uploadedPkg, targetPkg string) *DomainError {
	return NewCodedError(ErrorTypeValidation, CodeVersionPackageMismatch, ErrVersionPackageMismatch.Message).
		WithDetail("uploaded_pkg", uploadedPkg).
		WithDetail("target_pkg", targetPkg)
}

// NewReferenceExistsError reports a deletion blocked by live references of kind referencingKind
func NewReferenceExistsError(entityID uuid.UUID, referencingKind string) *DomainError {
	return NewCodedError(ErrorTypeConflict, CodeReferenceExists, ErrReferenceExists.Message).
		WithDetail("id", entityID.String()).
		WithDetail("referenced_by", referencingKind)
}

// NewArtifactInspectionError keeps the tool output for diagnostics; the
// message stays user facing.
func NewArtifactInspectionError(exitCode int, stderr []string, err error) *DomainError {
	e := NewCodedError(ErrorTypeExternal, CodeArtifactInspectionFailed, ErrArtifactInspectionFailed.Message).
		WithDetail("exit_code", exitCode).
		WithDetail("stderr", stderr)
	e.Err = err
	return e
}

// NewInconsistentStateError reports count applications sharing pkg in one scope
func NewInconsistentStateError(pkg string, count int) *DomainError {
	return NewCodedError(ErrorTypeInternal, CodeInconsistentState, ErrInconsistentState.Message).
		WithDetail("pkg", pkg).
		WithDetail("count", count)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is an external tool error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the ErrorCode of a domain error, or empty string
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
