package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyberguard/soar-engine/internal/model"
)

// SaveApproval implements approval.Store, idempotently upserting an
// Approval row.
func (s *Store) SaveApproval(ctx context.Context, a *model.Approval) error {
	approvers, err := json.Marshal(a.Approvers)
	if err != nil {
		return fmt.Errorf("pg: marshal approvers: %w", err)
	}
	const q = `
INSERT INTO approvals (id, execution_id, step_id, approvers, message, created_at,
    expires_at, decision, decider, decided_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
    decision = EXCLUDED.decision,
    decider = EXCLUDED.decider,
    decided_at = EXCLUDED.decided_at`
	_, err = s.db.ExecContext(ctx, q, a.ID, a.ExecutionID, a.StepID, approvers, a.Message,
		a.CreatedAt, a.ExpiresAt, string(a.Decision), a.Decider, a.DecidedAt)
	if err != nil {
		return fmt.Errorf("pg: save approval %s: %w", a.ID, err)
	}
	return nil
}

// GetApproval implements approval.Store.
func (s *Store) GetApproval(ctx context.Context, id string) (*model.Approval, error) {
	const q = `
SELECT id, execution_id, step_id, approvers, message, created_at, expires_at,
       decision, decider, decided_at
FROM approvals WHERE id = $1`
	row := s.db.QueryRowContext(ctx, q, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get approval %s: %w", id, err)
	}
	return a, nil
}

// ListExpiredPending implements approval.Store, backing the sweeper's
// (decision='', expires_at) partial index scan.
func (s *Store) ListExpiredPending(ctx context.Context, asOf time.Time) ([]*model.Approval, error) {
	const q = `
SELECT id, execution_id, step_id, approvers, message, created_at, expires_at,
       decision, decider, decided_at
FROM approvals WHERE decision = '' AND expires_at <= $1`
	rows, err := s.db.QueryContext(ctx, q, asOf)
	if err != nil {
		return nil, fmt.Errorf("pg: list expired pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*model.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApproval(row rowScanner) (*model.Approval, error) {
	var a model.Approval
	var approvers []byte
	var decision string
	if err := row.Scan(&a.ID, &a.ExecutionID, &a.StepID, &approvers, &a.Message,
		&a.CreatedAt, &a.ExpiresAt, &decision, &a.Decider, &a.DecidedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(approvers, &a.Approvers); err != nil {
		return nil, fmt.Errorf("pg: unmarshal approvers: %w", err)
	}
	a.Decision = model.ApprovalDecision(decision)
	return &a, nil
}
