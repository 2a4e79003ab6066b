// internal/models/health.go
package models

import "time"

// Health statuses, ordered best to worst.
const (
	HealthStatusHealthy  = "healthy"
	HealthStatusWarning  = "warning"
	HealthStatusCritical = "critical"
	HealthStatusUnknown  = "unknown"
)

// HealthMetric is one named check with its observed value and status.
type HealthMetric struct {
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	Status    string      `json:"status"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SystemHealth aggregates the per-metric checks into a single weighted score
// and overall status.
type SystemHealth struct {
	Status    string         `json:"status"`
	Score     float64        `json:"score"`
	Metrics   []HealthMetric `json:"metrics"`
	Summary   string         `json:"summary"`
	Timestamp time.Time      `json:"timestamp"`
}
