// Package errors provides standardized error handling for the notification engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Validation errors (caller mistakes, never retried)
	ErrCodeInvalidTokenFormat ErrorCode = "INVALID_TOKEN_FORMAT"
	ErrCodeUnknownTemplate    ErrorCode = "UNKNOWN_TEMPLATE"
	ErrCodeInvalidRecipient   ErrorCode = "INVALID_RECIPIENT"
	ErrCodeInvalidPlatform    ErrorCode = "INVALID_PLATFORM"
	ErrCodeInvalidPayload     ErrorCode = "INVALID_PAYLOAD"

	// Structural errors (missing prerequisites, never retried)
	ErrCodeUserNotFound          ErrorCode = "USER_NOT_FOUND"
	ErrCodeGatewayNotInitialized ErrorCode = "GATEWAY_NOT_INITIALIZED"
	ErrCodeScheduleClaimFailed   ErrorCode = "SCHEDULE_CLAIM_FAILED"

	// Permanent target errors (the destination is gone, never retried)
	ErrCodeInvalidToken   ErrorCode = "INVALID_TOKEN"
	ErrCodeSenderMismatch ErrorCode = "SENDER_ID_MISMATCH"

	// Resource exhaustion (self-imposed limit vs provider quota)
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"

	// Transient errors (retried with backoff)
	ErrCodeTransientSendFailed ErrorCode = "TRANSIENT_SEND_FAILED"
	ErrCodeDispatchTimeout     ErrorCode = "DISPATCH_TIMEOUT"

	// Infrastructure errors
	ErrCodeDatabaseQueryFailed ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeCacheUnavailable    ErrorCode = "CACHE_UNAVAILABLE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewInvalidTokenFormatError creates a non-retryable token validation error.
func NewInvalidTokenFormatError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTokenFormat,
		Message:   "Device token failed format validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownTemplateError creates a non-retryable template lookup error.
func NewUnknownTemplateError(templateType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownTemplate,
		Message:   "Notification template not registered",
		Details:   fmt.Sprintf("templateType: %s", templateType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidPayloadError creates a non-retryable payload validation error.
func NewInvalidPayloadError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidPayload,
		Message:   "Notification data failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidRecipientError creates a non-retryable recipient validation error.
func NewInvalidRecipientError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRecipient,
		Message:   "Recipient is missing or malformed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidPlatformError creates a non-retryable platform validation error.
func NewInvalidPlatformError(platform string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidPlatform,
		Message:   "Device platform is not supported",
		Details:   fmt.Sprintf("platform: %s", platform),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserNotFoundError creates a non-retryable user lookup error.
func NewUserNotFoundError(userID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUserNotFound,
		Message:   "User not found in directory",
		Details:   fmt.Sprintf("userId: %s", userID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayNotInitializedError creates a non-retryable gateway availability error.
func NewGatewayNotInitializedError() *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayNotInitialized,
		Message:   "Push gateway client is not initialized",
		Details:   "credentials missing or gateway bootstrap failed",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewScheduleClaimFailedError creates a non-retryable claim error; another
// runner already took the row.
func NewScheduleClaimFailedError(scheduleID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeScheduleClaimFailed,
		Message:   "Scheduled notification already claimed",
		Details:   fmt.Sprintf("scheduleId: %s", scheduleID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTokenError creates a non-retryable permanent target error.
// The token is dead at the gateway; retrying can never succeed.
func NewInvalidTokenError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidToken,
		Message:   "Device token rejected as unregistered",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSenderMismatchError creates a non-retryable permanent target error.
func NewSenderMismatchError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSenderMismatch,
		Message:   "Device token belongs to a different sender",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitExceededError creates a non-retryable self-imposed throttle error.
// The caller failed fast before any gateway call was made.
func NewRateLimitExceededError(limit int) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimitExceeded,
		Message:   "Per-minute dispatch ceiling reached",
		Details:   fmt.Sprintf("limit: %d messages/minute", limit),
		Retryable: false,
		Metadata:  map[string]interface{}{"limit": limit},
		Timestamp: time.Now().UTC(),
	}
}

// NewQuotaExceededError creates a non-retryable provider quota error.
func NewQuotaExceededError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQuotaExceeded,
		Message:   "Provider messaging quota exceeded",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransientSendError creates a retryable delivery error.
func NewTransientSendError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransientSendFailed,
		Message:   "Gateway send failed with a transient error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDispatchTimeoutError creates a retryable timeout error.
func NewDispatchTimeoutError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDispatchTimeout,
		Message:   "Gateway call exceeded request timeout",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseQueryFailedError creates a retryable database error.
func NewDatabaseQueryFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseQueryFailed,
		Message:   "Database operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheUnavailableError creates a retryable cache error.
func NewCacheUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Cache backend unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// IsRetryable reports whether err carries a retryable StandardError.
// Unknown error types are treated as transient.
func IsRetryable(err error) bool {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return err != nil
}

// CodeOf extracts the ErrorCode from err, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether err is a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "TOKEN") || strings.Contains(codeStr, "SENDER"):
		return "TARGET"
	case strings.Contains(codeStr, "TEMPLATE") || strings.Contains(codeStr, "RECIPIENT"):
		return "VALIDATION"
	case strings.Contains(codeStr, "RATE_LIMIT") || strings.Contains(codeStr, "QUOTA"):
		return "THROTTLE"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "CACHE"):
		return "INFRASTRUCTURE"
	case strings.Contains(codeStr, "TRANSIENT") || strings.Contains(codeStr, "TIMEOUT"):
		return "TRANSIENT"
	default:
		return "OTHER"
	}
}
