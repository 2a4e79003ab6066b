package orchestrator

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-notifications/internal/channels"
	"transit-notifications/internal/common/errors"
	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/models"
	"transit-notifications/internal/templates"
)

type MockPushSender struct {
	DeliverFunc func(ctx context.Context, userID string, content models.PushContent,
		payload *models.DataPayload, priority models.Priority) channels.Result
	calls int
}

func (m *MockPushSender) Deliver(ctx context.Context, userID string, content models.PushContent,
	payload *models.DataPayload, priority models.Priority) channels.Result {
	m.calls++
	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, userID, content, payload, priority)
	}
	return channels.Result{Channel: models.ChannelPush, Success: true}
}

type MockMessageChannel struct {
	channel     string
	DeliverFunc func(ctx context.Context, user *models.User, title, body string) channels.Result
	calls       int
}

func (m *MockMessageChannel) Deliver(ctx context.Context, user *models.User, title, body string) channels.Result {
	m.calls++
	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, user, title, body)
	}
	return channels.Result{Channel: m.channel, Success: true}
}

type fixture struct {
	orch  *Orchestrator
	mock  sqlmock.Sqlmock
	push  *MockPushSender
	email *MockMessageChannel
	sms   *MockMessageChannel
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	push := &MockPushSender{}
	email := &MockMessageChannel{channel: models.ChannelEmail}
	sms := &MockMessageChannel{channel: models.ChannelSMS}

	orch := New(db, push, email, sms, 100, nil, logger.NewTestLogger(t))
	return &fixture{orch: orch, mock: mock, push: push, email: email, sms: sms}
}

func (f *fixture) expectPreference(enabled bool, channelsJSON, quietStart, quietEnd string) {
	rows := sqlmock.NewRows([]string{"enabled", "channels", "quiet_hours_start", "quiet_hours_end", "lead_time_minutes"}).
		AddRow(enabled, []byte(channelsJSON), quietStart, quietEnd, 0)
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT enabled, channels, quiet_hours_start, quiet_hours_end")).
		WillReturnRows(rows)
}

func (f *fixture) expectNoPreference() {
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT enabled, channels, quiet_hours_start, quiet_hours_end")).
		WillReturnError(sql.ErrNoRows)
}

func (f *fixture) expectUser(email, phone string, emailOptIn, smsOptIn bool) {
	rows := sqlmock.NewRows([]string{"email", "phone", "email_opt_in", "sms_opt_in"}).
		AddRow(email, phone, emailOptIn, smsOptIn)
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT email, phone, email_opt_in, sms_opt_in FROM users")).
		WillReturnRows(rows)
}

func (f *fixture) expectAuditInsert() {
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications (")).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func (f *fixture) expectDeliveryLogs(n int) {
	for i := 0; i < n; i++ {
		f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_logs")).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
}

func TestSend_DeliversOverPreferredChannels(t *testing.T) {
	f := setup(t)
	f.expectPreference(true, `["push","email"]`, "", "")
	f.expectUser("rider@example.com", "", true, false)
	f.expectAuditInsert()
	f.expectDeliveryLogs(2)

	result, err := f.orch.Send(context.Background(), "user-1", templates.TypeBusArrival, nil,
		models.PriorityHigh, map[string]interface{}{"bus_number": "101", "stop_name": "Central", "minutes": 5})

	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.NotEmpty(t, result.NotificationID)
	assert.Equal(t, 1, f.push.calls)
	assert.Equal(t, 1, f.email.calls)
	assert.Zero(t, f.sms.calls)
	require.Len(t, result.Results, 2)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSend_NoPreferenceFallsBackToInApp(t *testing.T) {
	f := setup(t)
	f.expectNoPreference()
	f.expectUser("", "", false, false)
	f.expectAuditInsert()
	f.expectDeliveryLogs(1)

	result, err := f.orch.Send(context.Background(), "user-1", templates.TypeServiceAlert, nil,
		models.PriorityNormal, map[string]interface{}{"severity": "warning"})

	require.NoError(t, err)
	assert.True(t, result.Delivered)
	require.Len(t, result.Results, 1)
	assert.Equal(t, models.ChannelInApp, result.Results[0].Channel)
	assert.Equal(t, result.NotificationID, result.Results[0].Detail["notification_id"])
	assert.Zero(t, f.push.calls)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSend_ExplicitChannelsOverridePreference(t *testing.T) {
	f := setup(t)
	f.expectPreference(true, `["email"]`, "", "")
	f.expectUser("rider@example.com", "+15550100", true, true)
	f.expectAuditInsert()
	f.expectDeliveryLogs(1)

	result, err := f.orch.Send(context.Background(), "user-1", templates.TypeBusDelay,
		[]string{models.ChannelSMS}, models.PriorityNormal,
		map[string]interface{}{"bus_number": "101", "delay_minutes": 10})

	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, 1, f.sms.calls)
	assert.Zero(t, f.email.calls)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSend_DisabledPreferenceSkipsWithoutAuditRecord(t *testing.T) {
	f := setup(t)
	f.expectPreference(false, `["push"]`, "", "")

	result, err := f.orch.Send(context.Background(), "user-1", templates.TypeBusArrival, nil,
		models.PriorityNormal, nil)

	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, "notifications disabled by preference", result.Reason)
	assert.Empty(t, result.NotificationID)
	assert.Zero(t, f.push.calls)
	assert.NoError(t, f.mock.ExpectationsWereMet(), "no user lookup or insert for a vetoed send")
}

func TestSend_QuietHours(t *testing.T) {
	tests := []struct {
		name    string
		now     string
		blocked bool
	}{
		{name: "late evening inside overnight window", now: "23:30", blocked: true},
		{name: "early morning inside overnight window", now: "02:00", blocked: true},
		{name: "midday outside overnight window", now: "12:00", blocked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.expectPreference(true, `["in_app"]`, "22:00", "06:00")
			if !tt.blocked {
				f.expectUser("", "", false, false)
				f.expectAuditInsert()
				f.expectDeliveryLogs(1)
			}

			clock, err := time.Parse("15:04", tt.now)
			require.NoError(t, err)
			f.orch.now = func() time.Time { return clock }

			result, err := f.orch.Send(context.Background(), "user-1", templates.TypeBusArrival, nil,
				models.PriorityNormal, nil)

			require.NoError(t, err)
			assert.Equal(t, tt.blocked, result.Skipped)
			if tt.blocked {
				assert.Equal(t, "inside quiet hours", result.Reason)
			} else {
				assert.True(t, result.Delivered)
			}
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}

func TestSend_UnknownTemplate(t *testing.T) {
	f := setup(t)

	_, err := f.orch.Send(context.Background(), "user-1", "nonexistent", nil, models.PriorityNormal, nil)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnknownTemplate))
	assert.False(t, errors.IsRetryable(err))
}

func TestSend_RejectsMalformedData(t *testing.T) {
	f := setup(t)

	_, err := f.orch.Send(context.Background(), "user-1", templates.TypeServiceAlert, nil,
		models.PriorityNormal, map[string]interface{}{"severity": "catastrophic"})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidPayload))
	assert.NoError(t, f.mock.ExpectationsWereMet(), "validation failures must not touch the database")
}

func TestSend_UserNotFound(t *testing.T) {
	f := setup(t)
	f.expectNoPreference()
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT email, phone, email_opt_in, sms_opt_in FROM users")).
		WillReturnError(sql.ErrNoRows)

	_, err := f.orch.Send(context.Background(), "user-missing", templates.TypeBusArrival, nil,
		models.PriorityNormal, nil)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUserNotFound))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSendBulk_CountsOutcomes(t *testing.T) {
	f := setup(t)

	// user-1 delivers, user-2 is disabled, user-3 does not exist.
	f.expectNoPreference()
	f.expectUser("", "", false, false)
	f.expectAuditInsert()
	f.expectDeliveryLogs(1)

	f.expectPreference(false, `[]`, "", "")

	f.expectNoPreference()
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT email, phone, email_opt_in, sms_opt_in FROM users")).
		WillReturnError(sql.ErrNoRows)

	bulk, err := f.orch.SendBulk(context.Background(), []string{"user-1", "user-2", "user-3"},
		templates.TypePromotional, nil, models.PriorityNormal, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, bulk.Total)
	assert.Equal(t, 1, bulk.Sent)
	assert.Equal(t, 1, bulk.Skipped)
	assert.Equal(t, 1, bulk.Failed)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSendBulk_UnknownTemplateFailsFast(t *testing.T) {
	f := setup(t)

	_, err := f.orch.SendBulk(context.Background(), []string{"user-1"}, "nonexistent", nil,
		models.PriorityNormal, nil)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnknownTemplate))
}

func TestSchedule_StoresRow(t *testing.T) {
	f := setup(t)
	dueAt := time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC)

	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduled_notifications")).
		WithArgs(sqlmock.AnyArg(), "user-1", templates.TypeBusArrival, dueAt,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	scheduled, err := f.orch.Schedule(context.Background(), "user-1", templates.TypeBusArrival,
		dueAt, map[string]interface{}{"bus_number": "101"}, []string{models.ChannelPush})

	require.NoError(t, err)
	assert.NotEmpty(t, scheduled.ID)
	assert.Equal(t, dueAt, scheduled.DueAt)
	assert.False(t, scheduled.Sent)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestInQuietHours(t *testing.T) {
	at := func(clock string) time.Time {
		parsed, _ := time.Parse("15:04", clock)
		return parsed
	}

	tests := []struct {
		name   string
		start  string
		end    string
		now    string
		expect bool
	}{
		{name: "inside same-day window", start: "09:00", end: "17:00", now: "12:00", expect: true},
		{name: "outside same-day window", start: "09:00", end: "17:00", now: "18:00", expect: false},
		{name: "window boundaries are inclusive", start: "09:00", end: "17:00", now: "17:00", expect: true},
		{name: "overnight wrap before midnight", start: "22:00", end: "06:00", now: "23:59", expect: true},
		{name: "overnight wrap after midnight", start: "22:00", end: "06:00", now: "05:59", expect: true},
		{name: "overnight wrap midday", start: "22:00", end: "06:00", now: "12:00", expect: false},
		{name: "empty window never blocks", start: "", end: "", now: "12:00", expect: false},
		{name: "degenerate window never blocks", start: "10:00", end: "10:00", now: "10:00", expect: false},
		{name: "unparseable window never blocks", start: "25:99", end: "06:00", now: "12:00", expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, inQuietHours(tt.start, tt.end, at(tt.now)))
		})
	}
}
