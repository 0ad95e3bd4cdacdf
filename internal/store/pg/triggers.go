package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyberguard/soar-engine/internal/model"
)

// ListTriggersForWebhook returns every enabled trigger bound to webhookID at
// its latest persisted version, the set the Trigger Evaluator (spec §4.C)
// matches candidate alerts against.
func (s *Store) ListTriggersForWebhook(ctx context.Context, webhookID string) ([]*model.Trigger, error) {
	const q = `
SELECT DISTINCT ON (id) id, webhook_id, playbook_id, version, predicates,
       match_mode, enabled, created_at, updated_at
FROM triggers
WHERE webhook_id = $1
ORDER BY id, version DESC`

	rows, err := s.db.QueryContext(ctx, q, webhookID)
	if err != nil {
		return nil, fmt.Errorf("pg: list triggers for webhook %s: %w", webhookID, err)
	}
	defer rows.Close()

	var out []*model.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

// ListTriggersForPlaybook returns every enabled trigger bound to playbookID
// at its latest persisted version, regardless of which webhook owns it —
// used to gate manual-trigger admissions (spec §6 "may still be gated by
// trigger predicates unless bypass_trigger is true").
func (s *Store) ListTriggersForPlaybook(ctx context.Context, playbookID string) ([]*model.Trigger, error) {
	const q = `
SELECT DISTINCT ON (id) id, webhook_id, playbook_id, version, predicates,
       match_mode, enabled, created_at, updated_at
FROM triggers
WHERE playbook_id = $1
ORDER BY id, version DESC`

	rows, err := s.db.QueryContext(ctx, q, playbookID)
	if err != nil {
		return nil, fmt.Errorf("pg: list triggers for playbook %s: %w", playbookID, err)
	}
	defer rows.Close()

	var out []*model.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

// GetTrigger returns the latest version of the trigger with the given id.
func (s *Store) GetTrigger(ctx context.Context, triggerID string) (*model.Trigger, error) {
	const q = `
SELECT id, webhook_id, playbook_id, version, predicates, match_mode, enabled,
       created_at, updated_at
FROM triggers WHERE id = $1
ORDER BY version DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, q, triggerID)
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get trigger %s: %w", triggerID, err)
	}
	return t, nil
}

// SaveTrigger inserts a trigger version (spec §4.C "edits create a new
// version; previous versions are retained for audit"). Re-saving an
// existing (id, version) updates only its enabled flag and updated_at; its
// predicates and match mode are left unchanged.
func (s *Store) SaveTrigger(ctx context.Context, t *model.Trigger) error {
	predicates, err := json.Marshal(t.Predicates)
	if err != nil {
		return fmt.Errorf("pg: marshal trigger predicates: %w", err)
	}
	const q = `
INSERT INTO triggers (id, webhook_id, playbook_id, version, predicates,
    match_mode, enabled, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id, version) DO UPDATE SET
    enabled = EXCLUDED.enabled,
    updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, q, t.ID, t.WebhookID, t.PlaybookID, t.Version,
		predicates, t.Match, t.Enabled, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: save trigger %s v%d: %w", t.ID, t.Version, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (*model.Trigger, error) {
	var t model.Trigger
	var predicates []byte
	if err := row.Scan(&t.ID, &t.WebhookID, &t.PlaybookID, &t.Version, &predicates,
		&t.Match, &t.Enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(predicates, &t.Predicates); err != nil {
		return nil, fmt.Errorf("pg: unmarshal trigger predicates: %w", err)
	}
	return &t, nil
}
