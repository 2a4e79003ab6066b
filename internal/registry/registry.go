// Package registry owns the device token lifecycle: registration upserts,
// active-token lookups, invalid-token deactivation and stale-token sweeps.
// Tokens are deactivated rather than deleted so delivery history stays
// attributable.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"transit-notifications/internal/common/errors"
	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/models"
)

const defaultMinTokenLength = 50

type Registry struct {
	db             *sql.DB
	cache          *TokenCache
	log            logger.Logger
	minTokenLength int
}

func New(db *sql.DB, cache *TokenCache, log logger.Logger, minTokenLength int) *Registry {
	if minTokenLength <= 0 {
		minTokenLength = defaultMinTokenLength
	}
	return &Registry{
		db:             db,
		cache:          cache,
		log:            log,
		minTokenLength: minTokenLength,
	}
}

// ValidateToken applies the structural token check: non-empty, longer than
// the minimum, and carrying the ':' separator real FCM tokens have.
func (r *Registry) ValidateToken(token string) error {
	if token == "" {
		return errors.NewInvalidTokenFormatError("token is empty")
	}
	if len(token) <= r.minTokenLength {
		return errors.NewInvalidTokenFormatError(
			fmt.Sprintf("token length %d below minimum %d", len(token), r.minTokenLength))
	}
	if !strings.Contains(token, ":") {
		return errors.NewInvalidTokenFormatError("token missing ':' separator")
	}
	return nil
}

// Register upserts a device token on (user_id, token). Re-registering an
// existing token reactivates it and refreshes its metadata instead of
// creating a duplicate row.
func (r *Registry) Register(ctx context.Context, userID, token, platform string) (*models.DeviceToken, error) {
	if userID == "" {
		return nil, errors.NewInvalidRecipientError("userId is empty")
	}
	if err := r.ValidateToken(token); err != nil {
		return nil, err
	}
	platform = strings.ToLower(platform)
	if !models.ValidPlatform(platform) {
		return nil, errors.NewInvalidPlatformError(platform)
	}

	dt := models.DeviceToken{
		ID:       uuid.New().String(),
		UserID:   userID,
		Token:    token,
		Platform: platform,
		Active:   true,
	}

	query := `
		INSERT INTO device_tokens (id, user_id, token, platform, active, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW(), NOW())
		ON CONFLICT (user_id, token) DO UPDATE
		SET platform = EXCLUDED.platform, active = TRUE, last_used_at = NOW(), updated_at = NOW()
		RETURNING id, last_used_at, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, dt.ID, userID, token, platform).
		Scan(&dt.ID, &dt.LastUsedAt, &dt.CreatedAt, &dt.UpdatedAt)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("register device token", err)
	}

	if err := r.cache.Invalidate(ctx, userID); err != nil {
		r.log.Warn("Failed to invalidate token cache", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}

	r.log.Info("Device token registered", map[string]interface{}{
		"userId":   userID,
		"platform": platform,
		"tokenId":  dt.ID,
	})
	return &dt, nil
}

// ActiveTokensFor returns the user's active tokens, served from the redis
// cache when possible.
func (r *Registry) ActiveTokensFor(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	if tokens, ok := r.cache.Get(ctx, userID); ok {
		return tokens, nil
	}

	query := `
		SELECT id, user_id, token, platform, active, last_used_at, created_at, updated_at
		FROM device_tokens
		WHERE user_id = $1 AND active = TRUE
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("load active tokens", err)
	}
	defer rows.Close()

	var tokens []models.DeviceToken
	for rows.Next() {
		var dt models.DeviceToken
		if err := rows.Scan(&dt.ID, &dt.UserID, &dt.Token, &dt.Platform, &dt.Active,
			&dt.LastUsedAt, &dt.CreatedAt, &dt.UpdatedAt); err != nil {
			return nil, errors.NewDatabaseQueryFailedError("scan device token", err)
		}
		tokens = append(tokens, dt)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseQueryFailedError("iterate device tokens", err)
	}

	if err := r.cache.Set(ctx, userID, tokens); err != nil {
		r.log.Warn("Failed to cache token list", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
	return tokens, nil
}

// DeactivateInvalid marks the given tokens inactive and clears the caches of
// every affected user. Rows are kept for audit.
func (r *Registry) DeactivateInvalid(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	userRows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM device_tokens WHERE token = ANY($1) AND active = TRUE`,
		pq.Array(tokens))
	if err != nil {
		return 0, errors.NewDatabaseQueryFailedError("lookup token owners", err)
	}
	var owners []string
	for userRows.Next() {
		var id string
		if err := userRows.Scan(&id); err != nil {
			userRows.Close()
			return 0, errors.NewDatabaseQueryFailedError("scan token owner", err)
		}
		owners = append(owners, id)
	}
	userRows.Close()
	if err := userRows.Err(); err != nil {
		return 0, errors.NewDatabaseQueryFailedError("iterate token owners", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE device_tokens SET active = FALSE, updated_at = NOW() WHERE token = ANY($1) AND active = TRUE`,
		pq.Array(tokens))
	if err != nil {
		return 0, errors.NewDatabaseQueryFailedError("deactivate tokens", err)
	}
	affected, _ := res.RowsAffected()

	if len(owners) > 0 {
		if err := r.cache.Invalidate(ctx, owners...); err != nil {
			r.log.Warn("Failed to invalidate token caches", map[string]interface{}{
				"users": len(owners),
				"error": err.Error(),
			})
		}
	}

	if affected > 0 {
		r.log.Info("Deactivated invalid device tokens", map[string]interface{}{
			"count": affected,
			"users": len(owners),
		})
	}
	return affected, nil
}

// MarkUsed refreshes last_used_at for tokens that just delivered, keeping
// them out of the stale sweep.
func (r *Registry) MarkUsed(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE device_tokens SET last_used_at = NOW() WHERE token = ANY($1)`,
		pq.Array(tokens))
	if err != nil {
		return errors.NewDatabaseQueryFailedError("mark tokens used", err)
	}
	return nil
}

// SweepStale deactivates active tokens not used within maxIdle.
func (r *Registry) SweepStale(ctx context.Context, maxIdle time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxIdle)

	res, err := r.db.ExecContext(ctx,
		`UPDATE device_tokens SET active = FALSE, updated_at = NOW() WHERE active = TRUE AND last_used_at < $1`,
		cutoff)
	if err != nil {
		return 0, errors.NewDatabaseQueryFailedError("sweep stale tokens", err)
	}
	affected, _ := res.RowsAffected()

	if affected > 0 {
		r.log.Info("Swept stale device tokens", map[string]interface{}{
			"count":  affected,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	return affected, nil
}
