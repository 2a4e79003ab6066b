package scheduler

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-notifications/internal/common/errors"
	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/models"
	"transit-notifications/internal/orchestrator"
)

type MockSender struct {
	SendFunc func(ctx context.Context, userID, templateType string, channelList []string,
		priority models.Priority, data map[string]interface{}) (*orchestrator.SendResult, error)
	calls []string
}

func (m *MockSender) Send(ctx context.Context, userID, templateType string, channelList []string,
	priority models.Priority, data map[string]interface{}) (*orchestrator.SendResult, error) {
	m.calls = append(m.calls, userID)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, userID, templateType, channelList, priority, data)
	}
	return &orchestrator.SendResult{UserID: userID, Delivered: true}, nil
}

type MockSweeper struct {
	SweepStaleFunc func(ctx context.Context, maxIdle time.Duration) (int64, error)
	maxIdle        time.Duration
}

func (m *MockSweeper) SweepStale(ctx context.Context, maxIdle time.Duration) (int64, error) {
	m.maxIdle = maxIdle
	if m.SweepStaleFunc != nil {
		return m.SweepStaleFunc(ctx, maxIdle)
	}
	return 0, nil
}

type fixture struct {
	sched  *Scheduler
	mock   sqlmock.Sqlmock
	sender *MockSender
	mr     *miniredis.Miniredis
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sender := &MockSender{}
	sched := New(db, sender, &MockSweeper{}, rdb, 100, logger.NewTestLogger(t))
	return &fixture{sched: sched, mock: mock, sender: sender, mr: mr}
}

func dueRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "user_id", "notification_type", "due_at", "payload", "channels"})
	for _, id := range ids {
		rows.AddRow(id, "user-"+id, "bus_arrival", time.Now().Add(-time.Minute),
			[]byte(`{"bus_number":"101"}`), []byte(`["push"]`))
	}
	return rows
}

func (f *fixture) expectDue(rows *sqlmock.Rows) {
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, notification_type, due_at, payload, channels")).
		WithArgs(100).
		WillReturnRows(rows)
}

func (f *fixture) expectClaim(id string, won bool) {
	affected := int64(0)
	if won {
		affected = 1
	}
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduled_notifications SET sent = TRUE, sent_at = NOW()")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, affected))
}

func TestProcessDue_DeliversClaimedItems(t *testing.T) {
	f := setup(t)
	f.expectDue(dueRows("sched-1", "sched-2"))
	f.expectClaim("sched-1", true)
	f.expectClaim("sched-2", true)

	record, err := f.sched.ProcessDue(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, record.Due)
	assert.Equal(t, 2, record.Processed)
	assert.Zero(t, record.Failed)
	assert.Equal(t, []string{"user-sched-1", "user-sched-2"}, f.sender.calls)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessDue_LostClaimSkipsDelivery(t *testing.T) {
	f := setup(t)
	f.expectDue(dueRows("sched-1"))
	f.expectClaim("sched-1", false)

	record, err := f.sched.ProcessDue(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, record.Due)
	assert.Zero(t, record.Processed)
	assert.Zero(t, record.Failed)
	assert.Empty(t, f.sender.calls, "a lost claim must not reach the sender")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessDue_SendFailureRecordsErrorAndContinues(t *testing.T) {
	f := setup(t)
	f.expectDue(dueRows("sched-1", "sched-2"))
	f.expectClaim("sched-1", true)
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduled_notifications SET last_error")).
		WithArgs("sched-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.expectClaim("sched-2", true)

	f.sender.SendFunc = func(ctx context.Context, userID, templateType string, channelList []string,
		priority models.Priority, data map[string]interface{}) (*orchestrator.SendResult, error) {
		if userID == "user-sched-1" {
			return nil, errors.NewUserNotFoundError(userID)
		}
		return &orchestrator.SendResult{UserID: userID, Delivered: true}, nil
	}

	record, err := f.sched.ProcessDue(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, record.Processed)
	assert.Equal(t, 1, record.Failed)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessDue_PassesPayloadAndChannels(t *testing.T) {
	f := setup(t)
	f.expectDue(dueRows("sched-1"))
	f.expectClaim("sched-1", true)

	var gotChannels []string
	var gotData map[string]interface{}
	f.sender.SendFunc = func(ctx context.Context, userID, templateType string, channelList []string,
		priority models.Priority, data map[string]interface{}) (*orchestrator.SendResult, error) {
		gotChannels = channelList
		gotData = data
		return &orchestrator.SendResult{Delivered: true}, nil
	}

	_, err := f.sched.ProcessDue(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"push"}, gotChannels)
	assert.Equal(t, "101", gotData["bus_number"])
}

func TestProcessDue_NothingDue(t *testing.T) {
	f := setup(t)
	f.expectDue(dueRows())

	record, err := f.sched.ProcessDue(context.Background())

	require.NoError(t, err)
	assert.Zero(t, record.Due)
	assert.Empty(t, f.sender.calls)
}

func TestProcessDue_PersistsRunRecord(t *testing.T) {
	f := setup(t)
	f.expectDue(dueRows("sched-1"))
	f.expectClaim("sched-1", true)

	_, err := f.sched.ProcessDue(context.Background())
	require.NoError(t, err)

	raw, err := f.mr.Get(lastRunKey)
	require.NoError(t, err)

	var record RunRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &record))
	assert.Equal(t, 1, record.Due)
	assert.Equal(t, 1, record.Processed)
	assert.WithinDuration(t, time.Now().UTC(), record.Timestamp, time.Minute)
}

func TestRunTokenSweep(t *testing.T) {
	f := setup(t)
	sweeper := &MockSweeper{
		SweepStaleFunc: func(ctx context.Context, maxIdle time.Duration) (int64, error) {
			return 7, nil
		},
	}
	f.sched.sweeper = sweeper

	f.sched.RunTokenSweep(context.Background(), 90*24*time.Hour)

	assert.Equal(t, 90*24*time.Hour, sweeper.maxIdle)
}
