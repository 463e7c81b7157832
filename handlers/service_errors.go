package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/mdm-catalog/services"
	"github.com/upb/mdm-catalog/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses. The body carries
// the domain error code so clients can tell e.g. a duplicate upload from a
// blocked promotion, both of which are 409.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	code := string(services.GetErrorCode(err))
	message := publicMessage(err)
	details := services.GetErrorDetails(err)
	var status int

	switch {
	case services.IsNotFoundError(err):
		status = http.StatusNotFound

	case services.IsValidationError(err):
		status = http.StatusBadRequest

	case services.IsUnauthorizedError(err):
		status = http.StatusUnauthorized

	case services.IsForbiddenError(err):
		status = http.StatusForbidden

	case services.IsConflictError(err):
		status = http.StatusConflict

	case services.IsExternalError(err):
		// Tool output stays in the log
		logger.Warn("external tool failed", zap.Error(err), zap.Any("details", details))
		status = http.StatusBadGateway
		details = nil

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err), zap.String("code", code), zap.Any("details", details))
		status = http.StatusInternalServerError
		if code == "" {
			message = "An internal error occurred"
		}
		details = nil

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		status = http.StatusInternalServerError
		message = "An unexpected error occurred"
		details = nil
	}

	if err := utils.WriteError(w, status, code, message, details); err != nil {
		logger.Error("failed to write error response", zap.Error(err), zap.Int("status", status))
	}
}

// publicMessage returns the domain message without the wrapped cause
func publicMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
