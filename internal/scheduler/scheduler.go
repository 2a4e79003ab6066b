// Package scheduler polls stored future notifications and hands due ones to
// the orchestrator. Claiming is a conditional update on the sent flag, so any
// number of runners can poll the same table without double-sending.
package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"transit-notifications/internal/common/errors"
	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/common/metrics"
	"transit-notifications/internal/models"
	"transit-notifications/internal/orchestrator"
)

const (
	defaultBatchLimit = 100

	// lastRunKey feeds the health monitor's scheduler_performance metric.
	lastRunKey = "notifications:last_scheduled_run"
)

// Sender is the orchestrator surface the scheduler needs.
type Sender interface {
	Send(ctx context.Context, userID, templateType string, channelList []string,
		priority models.Priority, data map[string]interface{}) (*orchestrator.SendResult, error)
}

// TokenSweeper deactivates device tokens idle past a cutoff.
type TokenSweeper interface {
	SweepStale(ctx context.Context, maxIdle time.Duration) (int64, error)
}

// RunRecord is what ProcessDue persists about its last pass.
type RunRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Due       int       `json:"due"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
}

type Scheduler struct {
	db         *sql.DB
	sender     Sender
	sweeper    TokenSweeper
	rdb        *redis.Client
	log        logger.Logger
	reporter   *errors.Reporter
	batchLimit int
}

func New(db *sql.DB, sender Sender, sweeper TokenSweeper, rdb *redis.Client,
	batchLimit int, log logger.Logger) *Scheduler {

	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	return &Scheduler{
		db:         db,
		sender:     sender,
		sweeper:    sweeper,
		rdb:        rdb,
		log:        log,
		reporter:   errors.NewReporter(log),
		batchLimit: batchLimit,
	}
}

// ProcessDue claims and delivers everything past its due time. Each item is
// claimed and sent independently, so one bad row never blocks the rest.
func (s *Scheduler) ProcessDue(ctx context.Context) (*RunRecord, error) {
	due, err := s.loadDue(ctx)
	if err != nil {
		return nil, err
	}

	record := &RunRecord{Timestamp: time.Now().UTC(), Due: len(due)}
	for _, item := range due {
		claimed, err := s.claim(ctx, item.ID)
		if err != nil {
			s.log.Error("Failed to claim scheduled notification", map[string]interface{}{
				"id":    item.ID,
				"error": err.Error(),
			})
			record.Failed++
			metrics.SchedulerFailed.Inc()
			continue
		}
		if !claimed {
			// Another runner got there first.
			continue
		}

		if err := s.deliver(ctx, item); err != nil {
			s.reporter.Report("deliver_scheduled", strings.Join(item.Channels, ","), item.UserID, err)
			s.recordFailure(ctx, item.ID, err)
			record.Failed++
			metrics.SchedulerFailed.Inc()
			continue
		}
		record.Processed++
		metrics.SchedulerProcessed.Inc()
	}

	s.persistRunRecord(ctx, record)
	if record.Due > 0 {
		s.log.Info("Scheduled notifications processed", map[string]interface{}{
			"due":       record.Due,
			"processed": record.Processed,
			"failed":    record.Failed,
		})
	}
	return record, nil
}

// Run polls on a fixed interval until the context ends.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ProcessDue(ctx); err != nil {
				s.log.Error("Scheduler pass failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// RunTokenSweep deactivates tokens that have not been used within maxIdle.
func (s *Scheduler) RunTokenSweep(ctx context.Context, maxIdle time.Duration) {
	if s.sweeper == nil {
		return
	}
	swept, err := s.sweeper.SweepStale(ctx, maxIdle)
	if err != nil {
		s.log.Error("Token sweep failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if swept > 0 {
		s.log.Info("Stale device tokens deactivated", map[string]interface{}{
			"count":   swept,
			"maxIdle": maxIdle.String(),
		})
	}
}

func (s *Scheduler) loadDue(ctx context.Context) ([]models.ScheduledNotification, error) {
	query := `
		SELECT id, user_id, notification_type, due_at, payload, channels
		FROM scheduled_notifications
		WHERE sent = FALSE AND due_at <= NOW()
		ORDER BY due_at
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, s.batchLimit)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("load due notifications", err)
	}
	defer rows.Close()

	var due []models.ScheduledNotification
	for rows.Next() {
		var item models.ScheduledNotification
		var payloadJSON, channelsJSON []byte
		if err := rows.Scan(&item.ID, &item.UserID, &item.Type, &item.DueAt,
			&payloadJSON, &channelsJSON); err != nil {
			return nil, errors.NewDatabaseQueryFailedError("scan due notification", err)
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &item.Payload); err != nil {
				s.log.Warn("Malformed payload on scheduled notification", map[string]interface{}{
					"id": item.ID,
				})
			}
		}
		if len(channelsJSON) > 0 {
			if err := json.Unmarshal(channelsJSON, &item.Channels); err != nil {
				s.log.Warn("Malformed channels on scheduled notification", map[string]interface{}{
					"id": item.ID,
				})
			}
		}
		due = append(due, item)
	}
	return due, rows.Err()
}

// claim flips the sent flag conditionally. Zero rows affected means another
// runner already owns the item.
func (s *Scheduler) claim(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET sent = TRUE, sent_at = NOW() WHERE id = $1 AND sent = FALSE`, id)
	if err != nil {
		return false, errors.NewScheduleClaimFailedError(id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Scheduler) deliver(ctx context.Context, item models.ScheduledNotification) error {
	result, err := s.sender.Send(ctx, item.UserID, item.Type, item.Channels,
		models.PriorityNormal, item.Payload)
	if err != nil {
		return err
	}
	if result.Skipped {
		s.log.Debug("Scheduled notification skipped by preferences", map[string]interface{}{
			"id":     item.ID,
			"userId": item.UserID,
			"reason": result.Reason,
		})
	}
	return nil
}

func (s *Scheduler) recordFailure(ctx context.Context, id string, sendErr error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET last_error = $2 WHERE id = $1`, id, sendErr.Error()); err != nil {
		s.log.Error("Failed to record scheduling error", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}
}

func (s *Scheduler) persistRunRecord(ctx context.Context, record *RunRecord) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, lastRunKey, data, 0).Err(); err != nil {
		s.log.Warn("Failed to persist scheduler run record", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
