package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/services"
	"github.com/namaskah/namaskah-sms/backend/utils"
)

// HandleServiceError maps domain errors to HTTP responses. Orchestrator and
// vendor errors are translated first so that responses only carry the
// client-safe message; the full chain is logged.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	err = services.FromProviderError(err)
	message := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, message)

	case services.IsRateLimitError(err):
		writeErr = utils.WriteTooManyRequests(w, message, 1)

	case services.IsUnavailableError(err):
		logger.Warn("no provider available", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, message)

	case services.IsExternalError(err):
		logger.Warn("provider request failed", zap.Error(err))
		writeErr = utils.WriteBadGateway(w, message)

	default:
		// Log internal errors but return generic message
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
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

	// Generic validation error
	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
