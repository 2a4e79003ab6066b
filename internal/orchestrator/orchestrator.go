// Package orchestrator ties templates, preferences, and channel adapters into
// a single Send path. It decides whether a notification goes out at all, over
// which channels, and materializes the in-app audit record when it does.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"transit-notifications/internal/channels"
	"transit-notifications/internal/common/errors"
	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/models"
	"transit-notifications/internal/templates"
)

const defaultBulkBatchSize = 100

// PushSender is the push adapter surface the orchestrator needs.
type PushSender interface {
	Deliver(ctx context.Context, userID string, content models.PushContent,
		payload *models.DataPayload, priority models.Priority) channels.Result
}

// MessageChannel is the shape shared by the email and SMS adapters.
type MessageChannel interface {
	Deliver(ctx context.Context, user *models.User, title, body string) channels.Result
}

// SendResult is the aggregated outcome of one orchestrated delivery.
type SendResult struct {
	UserID         string            `json:"userId"`
	Type           string            `json:"type"`
	Delivered      bool              `json:"delivered"`
	Skipped        bool              `json:"skipped,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	NotificationID string            `json:"notificationId,omitempty"`
	Results        []channels.Result `json:"results,omitempty"`
}

// BulkResult aggregates a fan-out over many users.
type BulkResult struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type Orchestrator struct {
	db    *sql.DB
	push  PushSender
	email MessageChannel
	sms   MessageChannel
	log   logger.Logger

	bulkBatchSize   int
	defaultChannels []string

	// now is injectable so quiet-hours tests can pin the clock.
	now func() time.Time
}

func New(db *sql.DB, push PushSender, email, sms MessageChannel,
	bulkBatchSize int, defaultChannels []string, log logger.Logger) *Orchestrator {

	if bulkBatchSize <= 0 {
		bulkBatchSize = defaultBulkBatchSize
	}
	if len(defaultChannels) == 0 {
		defaultChannels = []string{models.ChannelInApp}
	}
	return &Orchestrator{
		db:              db,
		push:            push,
		email:           email,
		sms:             sms,
		log:             log,
		bulkBatchSize:   bulkBatchSize,
		defaultChannels: defaultChannels,
		now:             time.Now,
	}
}

// Send renders the template for one user and fans out over the resolved
// channels. Preference checks can veto delivery entirely; a vetoed send is a
// skip, not an error, and leaves no audit record.
func (o *Orchestrator) Send(ctx context.Context, userID, templateType string, channelList []string,
	priority models.Priority, data map[string]interface{}) (*SendResult, error) {

	if userID == "" {
		return nil, errors.NewInvalidRecipientError("user id is required")
	}
	tmpl, err := templates.Get(templateType)
	if err != nil {
		return nil, err
	}
	if err := templates.Validate(tmpl, data); err != nil {
		return nil, err
	}

	result := &SendResult{UserID: userID, Type: tmpl.Type()}

	pref, err := o.loadPreference(ctx, userID, tmpl.Type())
	if err != nil {
		return nil, err
	}
	if pref != nil && !pref.Enabled {
		result.Skipped = true
		result.Reason = "notifications disabled by preference"
		return result, nil
	}
	if pref != nil && inQuietHours(pref.QuietHoursStart, pref.QuietHoursEnd, o.now()) {
		result.Skipped = true
		result.Reason = "inside quiet hours"
		return result, nil
	}

	user, err := o.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resolved := o.resolveChannels(channelList, pref)
	content := templates.Render(tmpl, data)
	payload := tmpl.Payload(data)

	notificationID, err := o.recordNotification(ctx, userID, tmpl.Type(), content, data)
	if err != nil {
		return nil, err
	}
	result.NotificationID = notificationID

	for _, channel := range resolved {
		var chResult channels.Result
		switch channel {
		case models.ChannelPush:
			chResult = o.push.Deliver(ctx, userID, content, payload, priority)
		case models.ChannelEmail:
			chResult = o.email.Deliver(ctx, user, content.Title, content.Body)
		case models.ChannelSMS:
			chResult = o.sms.Deliver(ctx, user, content.Title, content.Body)
		case models.ChannelInApp:
			// The audit record written above is the in-app delivery.
			chResult = channels.Result{
				Channel: models.ChannelInApp,
				Success: true,
				Detail:  map[string]interface{}{"notification_id": notificationID},
			}
		default:
			chResult = channels.Result{
				Channel: channel,
				Skipped: true,
				Reason:  "unknown channel",
			}
			o.log.Warn("Unknown delivery channel requested", map[string]interface{}{
				"userId":  userID,
				"channel": channel,
			})
		}
		result.Results = append(result.Results, chResult)
		if chResult.Success {
			result.Delivered = true
		}
		o.logDelivery(ctx, notificationID, userID, chResult)
	}
	return result, nil
}

// logDelivery appends one row per channel attempt. The log feeds the health
// monitor's delivery and error rates, so a write failure is logged but never
// fails the send.
func (o *Orchestrator) logDelivery(ctx context.Context, notificationID, userID string, res channels.Result) {
	status := "sent"
	switch {
	case res.Skipped:
		status = "skipped"
	case !res.Success:
		status = "failed"
	}

	query := `
		INSERT INTO notification_logs (id, notification_id, user_id, channel, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	if _, err := o.db.ExecContext(ctx, query, uuid.New().String(), notificationID, userID,
		res.Channel, status, res.Error); err != nil {
		o.log.Warn("Failed to record delivery outcome", map[string]interface{}{
			"notificationId": notificationID,
			"channel":        res.Channel,
			"error":          err.Error(),
		})
	}
}

// SendBulk fans one notification out to many users in fixed-size batches.
// Per-user failures are absorbed into the counts so one bad recipient never
// aborts a campaign.
func (o *Orchestrator) SendBulk(ctx context.Context, userIDs []string, templateType string,
	channelList []string, priority models.Priority, data map[string]interface{}) (*BulkResult, error) {

	if _, err := templates.Get(templateType); err != nil {
		return nil, err
	}

	bulk := &BulkResult{Total: len(userIDs)}
	for begin := 0; begin < len(userIDs); begin += o.bulkBatchSize {
		end := begin + o.bulkBatchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}
		for _, userID := range userIDs[begin:end] {
			result, err := o.Send(ctx, userID, templateType, channelList, priority, data)
			switch {
			case err != nil:
				bulk.Failed++
				o.log.Warn("Bulk delivery failed for user", map[string]interface{}{
					"userId": userID,
					"type":   templateType,
					"error":  err.Error(),
				})
			case result.Skipped:
				bulk.Skipped++
			case result.Delivered:
				bulk.Sent++
			default:
				bulk.Failed++
			}
		}
	}
	return bulk, nil
}

// Schedule stores a future delivery for the scheduler to claim at due time.
func (o *Orchestrator) Schedule(ctx context.Context, userID, templateType string, dueAt time.Time,
	payload map[string]interface{}, channelList []string) (*models.ScheduledNotification, error) {

	if userID == "" {
		return nil, errors.NewInvalidRecipientError("user id is required")
	}
	tmpl, err := templates.Get(templateType)
	if err != nil {
		return nil, err
	}

	scheduled := &models.ScheduledNotification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      tmpl.Type(),
		DueAt:     dueAt,
		Payload:   payload,
		Channels:  channelList,
		CreatedAt: o.now().UTC(),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	channelsJSON, err := json.Marshal(channelList)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO scheduled_notifications
			(id, user_id, notification_type, due_at, payload, channels, sent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`
	if _, err := o.db.ExecContext(ctx, query, scheduled.ID, scheduled.UserID, scheduled.Type,
		scheduled.DueAt, payloadJSON, channelsJSON, scheduled.CreatedAt); err != nil {
		return nil, errors.NewDatabaseQueryFailedError("schedule notification", err)
	}

	o.log.Info("Notification scheduled", map[string]interface{}{
		"id":     scheduled.ID,
		"userId": userID,
		"type":   scheduled.Type,
		"dueAt":  dueAt,
	})
	return scheduled, nil
}

func (o *Orchestrator) loadPreference(ctx context.Context, userID, notificationType string) (*models.NotificationPreference, error) {
	query := `
		SELECT enabled, channels, quiet_hours_start, quiet_hours_end, lead_time_minutes
		FROM notification_preferences
		WHERE user_id = $1 AND notification_type = $2`

	pref := &models.NotificationPreference{UserID: userID, Type: notificationType}
	var channelsJSON []byte
	var quietStart, quietEnd sql.NullString
	var leadTime sql.NullInt64

	err := o.db.QueryRowContext(ctx, query, userID, notificationType).
		Scan(&pref.Enabled, &channelsJSON, &quietStart, &quietEnd, &leadTime)
	if err == sql.ErrNoRows {
		// No stored preference means deliver with defaults.
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("load notification preference", err)
	}

	if len(channelsJSON) > 0 {
		if err := json.Unmarshal(channelsJSON, &pref.Channels); err != nil {
			o.log.Warn("Malformed channels in preference, using defaults", map[string]interface{}{
				"userId": userID,
				"type":   notificationType,
			})
			pref.Channels = nil
		}
	}
	pref.QuietHoursStart = quietStart.String
	pref.QuietHoursEnd = quietEnd.String
	pref.LeadTimeMinutes = int(leadTime.Int64)
	return pref, nil
}

func (o *Orchestrator) loadUser(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT email, phone, email_opt_in, sms_opt_in FROM users WHERE id = $1`

	user := &models.User{ID: userID}
	var email, phone sql.NullString

	err := o.db.QueryRowContext(ctx, query, userID).
		Scan(&email, &phone, &user.EmailOptIn, &user.SMSOptIn)
	if err == sql.ErrNoRows {
		return nil, errors.NewUserNotFoundError(userID)
	}
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("load user", err)
	}
	user.Email = email.String
	user.Phone = phone.String
	return user, nil
}

// recordNotification writes the in-app audit row. It runs only once the
// preference gates have passed, so vetoed sends leave no trace.
func (o *Orchestrator) recordNotification(ctx context.Context, userID, notificationType string,
	content models.PushContent, data map[string]interface{}) (string, error) {

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	record := models.Notification{
		ID:      uuid.New().String(),
		UserID:  userID,
		Type:    notificationType,
		Title:   content.Title,
		Body:    content.Body,
		Channel: models.ChannelInApp,
		Data:    data,
	}
	query := `
		INSERT INTO notifications (id, user_id, notification_type, title, body, channel, data, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NOW())`
	if _, err := o.db.ExecContext(ctx, query, record.ID, record.UserID, record.Type,
		record.Title, record.Body, record.Channel, dataJSON); err != nil {
		return "", errors.NewDatabaseQueryFailedError("record notification", err)
	}
	return record.ID, nil
}

func (o *Orchestrator) resolveChannels(explicit []string, pref *models.NotificationPreference) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if pref != nil && len(pref.Channels) > 0 {
		return pref.Channels
	}
	return o.defaultChannels
}

// inQuietHours reports whether now falls inside the [start, end] wall-clock
// window. A window with start > end wraps midnight.
func inQuietHours(start, end string, now time.Time) bool {
	if start == "" || end == "" || start == end {
		return false
	}
	startT, err := time.Parse("15:04", start)
	if err != nil {
		return false
	}
	endT, err := time.Parse("15:04", end)
	if err != nil {
		return false
	}

	nowMin := now.Hour()*60 + now.Minute()
	startMin := startT.Hour()*60 + startT.Minute()
	endMin := endT.Hour()*60 + endT.Minute()

	if startMin > endMin {
		return nowMin >= startMin || nowMin <= endMin
	}
	return nowMin >= startMin && nowMin <= endMin
}
