package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cyberguard/soar-engine/internal/model"
)

// SaveAuditEvent appends an audit event. Audit logging is best-effort and
// never rolls back the mutation it describes (spec §7); callers log and
// continue on error rather than propagating it into a transaction.
func (s *Store) SaveAuditEvent(ctx context.Context, e *model.AuditEvent) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("pg: marshal audit detail: %w", err)
	}
	const q = `
INSERT INTO audit_events (id, at, actor, action, resource, outcome, detail)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, q, e.ID, e.At, e.Actor, e.Action, e.Resource, e.Outcome, detail)
	if err != nil {
		return fmt.Errorf("pg: save audit event %s: %w", e.ID, err)
	}
	return nil
}

// ListAuditEventsOlderThan returns up to limit audit events at or before
// cutoff, oldest first, for the retention sweeper's archive-then-delete pass.
func (s *Store) ListAuditEventsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.AuditEvent, error) {
	const q = `
SELECT id, at, actor, action, resource, outcome, detail
FROM audit_events WHERE at <= $1 ORDER BY at ASC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("pg: list audit events older than %s: %w", cutoff, err)
	}
	defer rows.Close()

	var out []*model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var detail []byte
		var outcome string
		if err := rows.Scan(&ev.ID, &ev.At, &ev.Actor, &ev.Action, &ev.Resource, &outcome, &detail); err != nil {
			return nil, fmt.Errorf("pg: scan audit event: %w", err)
		}
		if err := json.Unmarshal(detail, &ev.Detail); err != nil {
			return nil, fmt.Errorf("pg: unmarshal audit detail: %w", err)
		}
		ev.Outcome = model.AuditOutcome(outcome)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// DeleteAuditEvents removes the given ids, the final step of the retention
// sweeper's archive-then-delete pass.
func (s *Store) DeleteAuditEvents(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	idList, args := inClause(ids, 1)
	q := `DELETE FROM audit_events WHERE id IN (` + idList + `)`
	_, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("pg: delete audit events: %w", err)
	}
	return nil
}
