package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cyberguard/soar-engine/internal/model"
)

// GetWebhook implements webhookauth.Lookup.
func (s *Store) GetWebhook(ctx context.Context, webhookID string) (*model.Webhook, error) {
	const q = `
SELECT id, playbook_id, secret_hash, secret_prefix, enabled, rate_limit_per_min,
       burst_limit, rotation_count, secret_rotated_at, lifetime_requests,
       lifetime_accepted, lifetime_rejected, created_at, updated_at
FROM webhooks WHERE id = $1`

	var wh model.Webhook
	var rotatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, q, webhookID).Scan(
		&wh.ID, &wh.PlaybookID, &wh.SecretHash, &wh.SecretPrefix, &wh.Enabled,
		&wh.RateLimitPerMinute, &wh.BurstLimit, &wh.RotationCount, &rotatedAt,
		&wh.LifetimeRequests, &wh.LifetimeAccepted, &wh.LifetimeRejected,
		&wh.CreatedAt, &wh.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get webhook %s: %w", webhookID, err)
	}
	if rotatedAt.Valid {
		wh.SecretRotatedAt = rotatedAt.Time
	}
	return &wh, nil
}

// SaveWebhook idempotently upserts a webhook row (spec §4.J "idempotent
// full-replacement writes").
func (s *Store) SaveWebhook(ctx context.Context, wh *model.Webhook) error {
	const q = `
INSERT INTO webhooks (id, playbook_id, secret_hash, secret_prefix, enabled,
    rate_limit_per_min, burst_limit, rotation_count, secret_rotated_at,
    lifetime_requests, lifetime_accepted, lifetime_rejected, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
    playbook_id = EXCLUDED.playbook_id,
    secret_hash = EXCLUDED.secret_hash,
    secret_prefix = EXCLUDED.secret_prefix,
    enabled = EXCLUDED.enabled,
    rate_limit_per_min = EXCLUDED.rate_limit_per_min,
    burst_limit = EXCLUDED.burst_limit,
    rotation_count = EXCLUDED.rotation_count,
    secret_rotated_at = EXCLUDED.secret_rotated_at,
    lifetime_requests = EXCLUDED.lifetime_requests,
    lifetime_accepted = EXCLUDED.lifetime_accepted,
    lifetime_rejected = EXCLUDED.lifetime_rejected,
    updated_at = EXCLUDED.updated_at`

	var rotatedAt *time.Time
	if !wh.SecretRotatedAt.IsZero() {
		rotatedAt = &wh.SecretRotatedAt
	}
	_, err := s.db.ExecContext(ctx, q, wh.ID, wh.PlaybookID, wh.SecretHash, wh.SecretPrefix,
		wh.Enabled, wh.RateLimitPerMinute, wh.BurstLimit, wh.RotationCount, rotatedAt,
		wh.LifetimeRequests, wh.LifetimeAccepted, wh.LifetimeRejected, wh.CreatedAt, wh.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: save webhook %s: %w", wh.ID, err)
	}
	return nil
}

// IncrementWebhookCounters bumps the lifetime request/accepted/rejected
// counters in a single round trip, used by the ingestion pipeline after
// every admission decision (spec §4.A observability counters).
func (s *Store) IncrementWebhookCounters(ctx context.Context, webhookID string, accepted bool) error {
	const q = `
UPDATE webhooks SET
    lifetime_requests = lifetime_requests + 1,
    lifetime_accepted = lifetime_accepted + CASE WHEN $2 THEN 1 ELSE 0 END,
    lifetime_rejected  = lifetime_rejected  + CASE WHEN $2 THEN 0 ELSE 1 END,
    updated_at = now()
WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, webhookID, accepted)
	if err != nil {
		return fmt.Errorf("pg: increment webhook counters %s: %w", webhookID, err)
	}
	return nil
}
