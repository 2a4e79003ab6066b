// internal/models/dispatch.go
package models

// DispatchResult is the aggregate outcome of one gateway dispatch. For
// multicast sends the counts cover every sub-batch; InvalidTokens lists
// targets the gateway rejected permanently.
type DispatchResult struct {
	Success       bool     `json:"success"`
	Skipped       bool     `json:"skipped,omitempty"`
	MessageID     string   `json:"messageId,omitempty"`
	Error         string   `json:"error,omitempty"`
	ErrorCode     string   `json:"errorCode,omitempty"`
	SuccessCount  int      `json:"successCount"`
	FailureCount  int      `json:"failureCount"`
	InvalidTokens []string `json:"invalidTokens,omitempty"`
}
