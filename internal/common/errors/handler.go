// internal/common/errors/handler.go
package errors

import (
	stderrors "errors"
	"time"
)

// Reporter logs delivery failures with standardized error handling.
type Reporter struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

func NewReporter(logger Logger) *Reporter {
	return &Reporter{logger: logger}
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// Report logs a delivery failure without propagating it. Channel failures are
// absorbed into per-channel results; only the log line survives.
func (r *Reporter) Report(operation, channel, userID string, err error) *StandardError {
	stdErr := Normalize(err)

	fields := map[string]interface{}{
		"operation":     operation,
		"channel":       channel,
		"userId":        userID,
		"errorCode":     string(stdErr.Code),
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}

	if stdErr.Retryable {
		r.logger.Warn("Delivery attempt failed", fields)
	} else {
		r.logger.Error("Delivery failed", fields)
	}
	return stdErr
}
