package errors

import (
	"fmt"
	"net/http"
)

// Error code constants. Errors carry code + params; handlers render the
// code to the caller unchanged so clients can branch on it.

// Environment error codes.
const (
	CodeEnvironmentNotFound = "ENVIRONMENT_NOT_FOUND"
	CodeEnvironmentExists   = "ENVIRONMENT_ALREADY_EXISTS"
	CodeProvisioningFailed  = "PROVISIONING_FAILED"
	CodePartialProvisioning = "PARTIAL_PROVISIONING_FAILURE"
	CodeDeletionFailed      = "DELETION_FAILED"
	CodeIllegalTransition   = "ILLEGAL_STATE_TRANSITION"
)

// Quota error codes.
const (
	CodeQuotaExceedsCeiling = "QUOTA_EXCEEDS_CEILING"
	CodeQuotaNotFound       = "QUOTA_NOT_FOUND"
)

// Stack/template error codes.
const (
	CodeUnsupportedStack = "UNSUPPORTED_STACK"
	CodeRecipeRejected   = "RECIPE_REJECTED"
	CodeTemplateNotFound = "TEMPLATE_NOT_FOUND"
	CodeTemplateInUse    = "TEMPLATE_IN_USE"
	CodeTemplateExists   = "TEMPLATE_ALREADY_EXISTS"
)

// Cluster adapter error codes.
const (
	CodeAdapterTransient = "ADAPTER_TRANSIENT"
	CodeAdapterConflict  = "ADAPTER_CONFLICT"
	CodeAdapterRejected  = "ADAPTER_REJECTED"
	CodeAdapterNotFound  = "ADAPTER_NOT_FOUND"
)

// Batch error codes.
const (
	CodeBatchTooLarge      = "BATCH_TOO_LARGE"
	CodeBatchInvalidPrefix = "BATCH_INVALID_PREFIX"
	CodeBatchInvalidOp     = "BATCH_INVALID_OPERATION"
)

// Auth/validation error codes.
const (
	CodeAuthFailed       = "AUTH_FAILED"
	CodeTokenInvalid     = "TOKEN_INVALID"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNameInvalid      = "NAME_INVALID"
	CodeUserNotFound     = "USER_NOT_FOUND"
)

// Convenience constructors using predefined codes.

// ErrEnvironmentNotFoundf creates an environment not found error.
func ErrEnvironmentNotFoundf(id string) *AppError {
	return NotFound(CodeEnvironmentNotFound, "environment not found").
		WithParams(map[string]interface{}{"environment_id": id})
}

// ErrQuotaExceedsCeilingf creates the hard quota rejection error.
func ErrQuotaExceedsCeilingf(dimension string, requested, ceiling int64) *AppError {
	return &AppError{
		Code:       CodeQuotaExceedsCeiling,
		Message:    "requested quota exceeds the global ceiling",
		HTTPStatus: http.StatusUnprocessableEntity,
		Params: map[string]interface{}{
			"dimension": dimension,
			"requested": requested,
			"ceiling":   ceiling,
		},
	}
}

// ErrUnsupportedStackf creates a compiler rejection error.
func ErrUnsupportedStackf(language, version, framework string) *AppError {
	return &AppError{
		Code:       CodeUnsupportedStack,
		Message:    "stack configuration is not in the supported matrix",
		HTTPStatus: http.StatusUnprocessableEntity,
		Params: map[string]interface{}{
			"language":  language,
			"version":   version,
			"framework": framework,
		},
	}
}

// ErrRecipeRejectedf creates a recipe safety rejection error.
func ErrRecipeRejectedf(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:       CodeRecipeRejected,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// ErrBatchTooLargef creates the batch ceiling rejection error.
func ErrBatchTooLargef(requested, ceiling int) *AppError {
	return &AppError{
		Code:       CodeBatchTooLarge,
		Message:    "batch size exceeds the hard ceiling",
		HTTPStatus: http.StatusBadRequest,
		Params: map[string]interface{}{
			"requested": requested,
			"ceiling":   ceiling,
		},
	}
}
