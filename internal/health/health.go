// Package health scores the delivery pipeline. Six fixed checks each land on
// healthy, warning, or critical; the weighted average of their contributions
// (100, 60, 0) becomes the system score. Checks degrade to critical instead of
// returning errors, so a broken dependency shows up in the report rather than
// breaking it.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/models"
)

const (
	MetricGatewayConnectivity  = "gateway_connectivity"
	MetricDeliveryRate         = "delivery_rate"
	MetricQueueSize            = "queue_size"
	MetricTokenHealth          = "token_health"
	MetricSchedulerPerformance = "scheduler_performance"
	MetricErrorRate            = "error_rate"
)

const (
	contributionHealthy  = 100.0
	contributionWarning  = 60.0
	contributionCritical = 0.0

	scoreHealthyFloor = 80.0
	scoreWarningFloor = 50.0

	deliveryRateHealthy = 0.95
	deliveryRateWarning = 0.85

	queueSizeHealthy = 1000
	queueSizeWarning = 5000

	tokenInactiveHealthy = 0.10
	tokenInactiveWarning = 0.25

	schedulerLagHealthy = 5 * time.Minute
	schedulerLagWarning = 15 * time.Minute

	errorRateHealthy = 0.05
	errorRateWarning = 0.15

	defaultCacheTTL = 5 * time.Minute
	defaultStatsTTL = 10 * time.Minute

	lastRunKey = "notifications:last_scheduled_run"
)

// metricOrder fixes the report layout.
var metricOrder = []string{
	MetricGatewayConnectivity,
	MetricDeliveryRate,
	MetricQueueSize,
	MetricTokenHealth,
	MetricSchedulerPerformance,
	MetricErrorRate,
}

// Gateway is the dispatch-engine surface the monitor probes.
type Gateway interface {
	Initialized() bool
}

type schedulerRun struct {
	Timestamp time.Time `json:"timestamp"`
	Due       int       `json:"due"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
}

type Monitor struct {
	db      *sql.DB
	rdb     *redis.Client
	gateway Gateway
	log     logger.Logger

	weights  map[string]float64
	cacheTTL time.Duration
	statsTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   *models.SystemHealth
	cachedAt time.Time

	statsMu       sync.Mutex
	cachedStats   map[string]interface{}
	statsCachedAt time.Time
}

// New builds a monitor. Unspecified metric weights default to 1.0, which keeps
// every check contributing equally to the score.
func New(db *sql.DB, rdb *redis.Client, gateway Gateway, weights map[string]float64,
	cacheTTL, statsTTL time.Duration, log logger.Logger) *Monitor {

	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if statsTTL <= 0 {
		statsTTL = defaultStatsTTL
	}
	resolved := make(map[string]float64, len(metricOrder))
	for _, name := range metricOrder {
		resolved[name] = 1.0
		if w, ok := weights[name]; ok && w > 0 {
			resolved[name] = w
		}
	}
	return &Monitor{
		db:       db,
		rdb:      rdb,
		gateway:  gateway,
		log:      log,
		weights:  resolved,
		cacheTTL: cacheTTL,
		statsTTL: statsTTL,
		now:      time.Now,
	}
}

// Check returns the current system health, recomputing at most once per cache
// window.
func (m *Monitor) Check(ctx context.Context) *models.SystemHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.now().Sub(m.cachedAt) < m.cacheTTL {
		return m.cached
	}

	health := m.evaluate(ctx)
	m.cached = health
	m.cachedAt = m.now()
	return health
}

// Refresh recomputes immediately, bypassing the cache window, and primes the
// cache with the fresh result.
func (m *Monitor) Refresh(ctx context.Context) *models.SystemHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	health := m.evaluate(ctx)
	m.cached = health
	m.cachedAt = m.now()
	return health
}

func (m *Monitor) evaluate(ctx context.Context) *models.SystemHealth {
	checks := map[string]func(context.Context) models.HealthMetric{
		MetricGatewayConnectivity:  m.checkGateway,
		MetricDeliveryRate:         m.checkDeliveryRate,
		MetricQueueSize:            m.checkQueueSize,
		MetricTokenHealth:          m.checkTokenHealth,
		MetricSchedulerPerformance: m.checkScheduler,
		MetricErrorRate:            m.checkErrorRate,
	}

	metrics := make([]models.HealthMetric, 0, len(metricOrder))
	var weightedSum, totalWeight float64
	var criticals, warnings []string

	for _, name := range metricOrder {
		metric := checks[name](ctx)
		metric.Name = name
		metric.Timestamp = m.now().UTC()
		metrics = append(metrics, metric)

		weight := m.weights[name]
		weightedSum += weight * contribution(metric.Status)
		totalWeight += weight

		switch metric.Status {
		case models.HealthStatusCritical:
			criticals = append(criticals, name)
		case models.HealthStatusWarning:
			warnings = append(warnings, name)
		}
	}

	score := weightedSum / totalWeight
	health := &models.SystemHealth{
		Status:    overallStatus(score),
		Score:     score,
		Metrics:   metrics,
		Summary:   summarize(criticals, warnings),
		Timestamp: m.now().UTC(),
	}

	if health.Status != models.HealthStatusHealthy {
		m.log.Warn("System health degraded", map[string]interface{}{
			"status":   health.Status,
			"score":    health.Score,
			"critical": criticals,
			"warning":  warnings,
		})
	}
	return health
}

// GetStats returns per-channel delivery counts for the window, cached on its
// own TTL since the aggregate query is heavier than the health checks.
func (m *Monitor) GetStats(ctx context.Context, windowHours int) map[string]interface{} {
	if windowHours <= 0 {
		windowHours = 24
	}

	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	if m.cachedStats != nil && m.now().Sub(m.statsCachedAt) < m.statsTTL {
		return m.cachedStats
	}

	stats := map[string]interface{}{
		"window_hours": windowHours,
	}

	query := `
		SELECT channel, status, COUNT(*)
		FROM notification_logs
		WHERE created_at > NOW() - ($1 * INTERVAL '1 hour')
		GROUP BY channel, status`
	rows, err := m.db.QueryContext(ctx, query, windowHours)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	defer rows.Close()

	byChannel := map[string]map[string]int64{}
	var total int64
	for rows.Next() {
		var channel, status string
		var count int64
		if err := rows.Scan(&channel, &status, &count); err != nil {
			stats["error"] = err.Error()
			return stats
		}
		if byChannel[channel] == nil {
			byChannel[channel] = map[string]int64{}
		}
		byChannel[channel][status] = count
		total += count
	}
	stats["channels"] = byChannel
	stats["total"] = total

	m.cachedStats = stats
	m.statsCachedAt = m.now()
	return stats
}

func (m *Monitor) checkGateway(context.Context) models.HealthMetric {
	if m.gateway == nil || !m.gateway.Initialized() {
		return models.HealthMetric{
			Value:   false,
			Status:  models.HealthStatusCritical,
			Message: "push gateway not initialized",
		}
	}
	return models.HealthMetric{Value: true, Status: models.HealthStatusHealthy}
}

func (m *Monitor) checkDeliveryRate(ctx context.Context) models.HealthMetric {
	var sent, total int64
	query := `
		SELECT COUNT(*) FILTER (WHERE status = 'sent'), COUNT(*)
		FROM notification_logs
		WHERE created_at > NOW() - INTERVAL '24 hours' AND status <> 'skipped'`
	if err := m.db.QueryRowContext(ctx, query).Scan(&sent, &total); err != nil {
		return queryFailure(err)
	}
	if total == 0 {
		return models.HealthMetric{
			Value:   1.0,
			Status:  models.HealthStatusHealthy,
			Message: "no deliveries in the last 24h",
		}
	}

	rate := float64(sent) / float64(total)
	metric := models.HealthMetric{
		Value:   rate,
		Message: fmt.Sprintf("%d of %d deliveries succeeded", sent, total),
	}
	switch {
	case rate >= deliveryRateHealthy:
		metric.Status = models.HealthStatusHealthy
	case rate >= deliveryRateWarning:
		metric.Status = models.HealthStatusWarning
	default:
		metric.Status = models.HealthStatusCritical
	}
	return metric
}

func (m *Monitor) checkQueueSize(ctx context.Context) models.HealthMetric {
	var pending int64
	query := `SELECT COUNT(*) FROM scheduled_notifications WHERE sent = FALSE`
	if err := m.db.QueryRowContext(ctx, query).Scan(&pending); err != nil {
		return queryFailure(err)
	}

	metric := models.HealthMetric{
		Value:   pending,
		Message: fmt.Sprintf("%d notifications pending", pending),
	}
	switch {
	case pending <= queueSizeHealthy:
		metric.Status = models.HealthStatusHealthy
	case pending <= queueSizeWarning:
		metric.Status = models.HealthStatusWarning
	default:
		metric.Status = models.HealthStatusCritical
	}
	return metric
}

func (m *Monitor) checkTokenHealth(ctx context.Context) models.HealthMetric {
	var active, total int64
	query := `SELECT COUNT(*) FILTER (WHERE active), COUNT(*) FROM device_tokens`
	if err := m.db.QueryRowContext(ctx, query).Scan(&active, &total); err != nil {
		return queryFailure(err)
	}
	if total == 0 {
		return models.HealthMetric{
			Value:   0.0,
			Status:  models.HealthStatusHealthy,
			Message: "no registered device tokens",
		}
	}

	inactiveRatio := 1 - float64(active)/float64(total)
	metric := models.HealthMetric{
		Value:   inactiveRatio,
		Message: fmt.Sprintf("%d of %d tokens inactive", total-active, total),
	}
	switch {
	case inactiveRatio <= tokenInactiveHealthy:
		metric.Status = models.HealthStatusHealthy
	case inactiveRatio <= tokenInactiveWarning:
		metric.Status = models.HealthStatusWarning
	default:
		metric.Status = models.HealthStatusCritical
	}
	return metric
}

func (m *Monitor) checkScheduler(ctx context.Context) models.HealthMetric {
	raw, err := m.rdb.Get(ctx, lastRunKey).Result()
	if err == redis.Nil {
		// No run yet; normal right after deploy.
		return models.HealthMetric{
			Status:  models.HealthStatusWarning,
			Message: "no scheduler run recorded",
		}
	}
	if err != nil {
		return queryFailure(err)
	}

	var run schedulerRun
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		return queryFailure(err)
	}

	lag := m.now().UTC().Sub(run.Timestamp)
	metric := models.HealthMetric{
		Value:   lag.Round(time.Second).String(),
		Message: fmt.Sprintf("last run processed %d of %d due", run.Processed, run.Due),
	}
	switch {
	case lag <= schedulerLagHealthy:
		metric.Status = models.HealthStatusHealthy
	case lag <= schedulerLagWarning:
		metric.Status = models.HealthStatusWarning
	default:
		metric.Status = models.HealthStatusCritical
	}
	if metric.Status == models.HealthStatusHealthy && run.Failed > 0 && run.Failed >= run.Processed {
		metric.Status = models.HealthStatusWarning
		metric.Message = fmt.Sprintf("last run failed %d of %d due", run.Failed, run.Due)
	}
	return metric
}

func (m *Monitor) checkErrorRate(ctx context.Context) models.HealthMetric {
	var failed, total int64
	query := `
		SELECT COUNT(*) FILTER (WHERE status = 'failed'), COUNT(*)
		FROM notification_logs
		WHERE created_at > NOW() - INTERVAL '24 hours' AND status <> 'skipped'`
	if err := m.db.QueryRowContext(ctx, query).Scan(&failed, &total); err != nil {
		return queryFailure(err)
	}
	if total == 0 {
		return models.HealthMetric{Value: 0.0, Status: models.HealthStatusHealthy}
	}

	rate := float64(failed) / float64(total)
	metric := models.HealthMetric{
		Value:   rate,
		Message: fmt.Sprintf("%d of %d deliveries failed", failed, total),
	}
	switch {
	case rate < errorRateHealthy:
		metric.Status = models.HealthStatusHealthy
	case rate < errorRateWarning:
		metric.Status = models.HealthStatusWarning
	default:
		metric.Status = models.HealthStatusCritical
	}
	return metric
}

func queryFailure(err error) models.HealthMetric {
	return models.HealthMetric{
		Status:  models.HealthStatusCritical,
		Message: err.Error(),
	}
}

func contribution(status string) float64 {
	switch status {
	case models.HealthStatusHealthy:
		return contributionHealthy
	case models.HealthStatusWarning:
		return contributionWarning
	default:
		return contributionCritical
	}
}

func overallStatus(score float64) string {
	switch {
	case score >= scoreHealthyFloor:
		return models.HealthStatusHealthy
	case score >= scoreWarningFloor:
		return models.HealthStatusWarning
	default:
		return models.HealthStatusCritical
	}
}

func summarize(criticals, warnings []string) string {
	switch {
	case len(criticals) > 0:
		return fmt.Sprintf("%d critical, %d warning checks", len(criticals), len(warnings))
	case len(warnings) > 0:
		return fmt.Sprintf("%d warning checks", len(warnings))
	default:
		return "all checks healthy"
	}
}
