package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyberguard/soar-engine/internal/model"
)

// GetPlaybook returns the playbook with the given id, or nil if none exists.
func (s *Store) GetPlaybook(ctx context.Context, playbookID string) (*model.Playbook, error) {
	const q = `
SELECT id, name, version, enabled, shadow_mode, steps, created_at, updated_at
FROM playbooks WHERE id = $1`

	row := s.db.QueryRowContext(ctx, q, playbookID)
	pb, err := scanPlaybook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get playbook %s: %w", playbookID, err)
	}
	return pb, nil
}

// ListEnabledPlaybooks returns every enabled playbook, ordered by id.
func (s *Store) ListEnabledPlaybooks(ctx context.Context) ([]*model.Playbook, error) {
	const q = `
SELECT id, name, version, enabled, shadow_mode, steps, created_at, updated_at
FROM playbooks WHERE enabled ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pg: list enabled playbooks: %w", err)
	}
	defer rows.Close()

	var out []*model.Playbook
	for rows.Next() {
		pb, err := scanPlaybook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pb)
	}
	return out, rows.Err()
}

// SavePlaybook idempotently upserts the full playbook document (spec §4.J).
func (s *Store) SavePlaybook(ctx context.Context, pb *model.Playbook) error {
	steps, err := json.Marshal(pb.Steps)
	if err != nil {
		return fmt.Errorf("pg: marshal playbook steps: %w", err)
	}
	const q = `
INSERT INTO playbooks (id, name, version, enabled, shadow_mode, steps, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    version = EXCLUDED.version,
    enabled = EXCLUDED.enabled,
    shadow_mode = EXCLUDED.shadow_mode,
    steps = EXCLUDED.steps,
    updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, q, pb.ID, pb.Name, pb.Version, pb.Enabled,
		pb.ShadowMode, steps, pb.CreatedAt, pb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: save playbook %s: %w", pb.ID, err)
	}
	return nil
}

func scanPlaybook(row rowScanner) (*model.Playbook, error) {
	var pb model.Playbook
	var steps []byte
	if err := row.Scan(&pb.ID, &pb.Name, &pb.Version, &pb.Enabled, &pb.ShadowMode,
		&steps, &pb.CreatedAt, &pb.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &pb.Steps); err != nil {
		return nil, fmt.Errorf("pg: unmarshal playbook steps: %w", err)
	}
	return &pb, nil
}
