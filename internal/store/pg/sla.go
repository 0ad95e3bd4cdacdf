package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyberguard/soar-engine/internal/model"
)

// GetSLAPolicy implements sla.PolicyResolver: returns the enabled policy for
// (scope, key), or nil if none exists. The partial unique index on
// (scope, key) WHERE enabled guarantees at most one row matches.
func (s *Store) GetSLAPolicy(ctx context.Context, scope model.SLAScope, key string) (*model.SLAPolicy, error) {
	const q = `
SELECT id, scope, key, thresholds, enabled, priority, created_at, updated_at
FROM sla_policies WHERE scope = $1 AND key = $2 AND enabled`
	row := s.db.QueryRowContext(ctx, q, scope, key)
	p, err := scanSLAPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get sla policy %s/%s: %w", scope, key, err)
	}
	return p, nil
}

// SaveSLAPolicy idempotently upserts an SLA policy row (spec §4.J).
func (s *Store) SaveSLAPolicy(ctx context.Context, p *model.SLAPolicy) error {
	const q = `
INSERT INTO sla_policies (id, scope, key, thresholds, enabled, priority, created_at, updated_at)
VALUES ($1,$2,$3, jsonb_build_object('acknowledge_ms', $4::bigint, 'containment_ms', $5::bigint, 'resolution_ms', $6::bigint),
    $7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
    scope = EXCLUDED.scope,
    key = EXCLUDED.key,
    thresholds = EXCLUDED.thresholds,
    enabled = EXCLUDED.enabled,
    priority = EXCLUDED.priority,
    updated_at = EXCLUDED.updated_at`
	_, err := s.db.ExecContext(ctx, q, p.ID, p.Scope, p.Key,
		p.Thresholds.AcknowledgeMS, p.Thresholds.ContainmentMS, p.Thresholds.ResolutionMS,
		p.Enabled, p.Priority, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: save sla policy %s: %w", p.ID, err)
	}
	return nil
}

// ListSLAPolicies returns every policy, used by the sla-report CLI.
func (s *Store) ListSLAPolicies(ctx context.Context) ([]*model.SLAPolicy, error) {
	const q = `
SELECT id, scope, key, thresholds, enabled, priority, created_at, updated_at
FROM sla_policies ORDER BY scope, key`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pg: list sla policies: %w", err)
	}
	defer rows.Close()

	var out []*model.SLAPolicy
	for rows.Next() {
		p, err := scanSLAPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanSLAPolicy(row rowScanner) (*model.SLAPolicy, error) {
	var p model.SLAPolicy
	var scope string
	var thresholds []byte
	if err := row.Scan(&p.ID, &scope, &p.Key, &thresholds, &p.Enabled,
		&p.Priority, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(thresholds, &p.Thresholds); err != nil {
		return nil, fmt.Errorf("pg: unmarshal sla thresholds: %w", err)
	}
	p.Scope = model.SLAScope(scope)
	return &p, nil
}
