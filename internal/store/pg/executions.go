package pg

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyberguard/soar-engine/internal/model"
)

// GetExecution returns the execution with the given id, or nil if none exists.
func (s *Store) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	const q = execSelectCols + `FROM executions WHERE id = $1`
	row := s.db.QueryRowContext(ctx, q, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get execution %s: %w", id, err)
	}
	return e, nil
}

// GetExecutionByFingerprint backs the duplicate-suppression window of spec
// §4.D: a second alert with the same fingerprint inside the window is
// dropped rather than starting a new execution.
func (s *Store) GetExecutionByFingerprint(ctx context.Context, fingerprint string) (*model.Execution, error) {
	const q = execSelectCols + `FROM executions WHERE fingerprint = $1`
	row := s.db.QueryRowContext(ctx, q, fingerprint)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get execution by fingerprint %s: %w", fingerprint, err)
	}
	return e, nil
}

// InsertExecution creates the initial execution row at admission time (spec
// §4.D/§4.J), before the engine dispatches its first step.
func (s *Store) InsertExecution(ctx context.Context, e *model.Execution) error {
	return s.SaveExecution(ctx, e)
}

// SaveExecution performs the idempotent full-replacement write the engine
// issues after every step dispatch (spec §4.J).
func (s *Store) SaveExecution(ctx context.Context, e *model.Execution) error {
	triggerData, err := json.Marshal(e.TriggerData)
	if err != nil {
		return fmt.Errorf("pg: marshal trigger_data: %w", err)
	}
	triggerSnapshot, err := json.Marshal(e.TriggerSnapshot)
	if err != nil {
		return fmt.Errorf("pg: marshal trigger_snapshot: %w", err)
	}
	steps, err := json.Marshal(e.Steps)
	if err != nil {
		return fmt.Errorf("pg: marshal steps: %w", err)
	}
	slaStatus, err := json.Marshal(e.SLAStatus)
	if err != nil {
		return fmt.Errorf("pg: marshal sla_status: %w", err)
	}
	var errDetail []byte
	if e.Error != nil {
		errDetail, err = json.Marshal(e.Error)
		if err != nil {
			return fmt.Errorf("pg: marshal error detail: %w", err)
		}
	}

	const q = `
INSERT INTO executions (id, playbook_id, playbook_name, playbook_version, state,
    trigger_data, trigger_snapshot, event_time, event_time_source, webhook_id,
    fingerprint, steps, current_step, dispatch_count, webhook_received_at,
    acknowledged_at, started_at, completed_at, duration_ms,
    waiting_approval_since, waiting_approval_total_ms, sla_status, drop_reason,
    error, approval_id, shadow_mode, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
    $21,$22,$23,$24,$25,$26,$27,$28)
ON CONFLICT (id) DO UPDATE SET
    state = EXCLUDED.state,
    steps = EXCLUDED.steps,
    current_step = EXCLUDED.current_step,
    dispatch_count = EXCLUDED.dispatch_count,
    acknowledged_at = EXCLUDED.acknowledged_at,
    started_at = EXCLUDED.started_at,
    completed_at = EXCLUDED.completed_at,
    duration_ms = EXCLUDED.duration_ms,
    waiting_approval_since = EXCLUDED.waiting_approval_since,
    waiting_approval_total_ms = EXCLUDED.waiting_approval_total_ms,
    sla_status = EXCLUDED.sla_status,
    drop_reason = EXCLUDED.drop_reason,
    error = EXCLUDED.error,
    approval_id = EXCLUDED.approval_id,
    updated_at = EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		e.ID, e.PlaybookID, e.PlaybookName, e.PlaybookVersion, e.State,
		triggerData, triggerSnapshot, e.EventTime, e.EventTimeSource, nullString(e.WebhookID),
		e.Fingerprint, steps, nullString(e.CurrentStep), e.DispatchCount, e.WebhookReceivedAt,
		nullTime(e.AcknowledgedAt), nullTime(e.StartedAt), e.CompletedAt, e.DurationMS,
		e.WaitingApprovalSince, e.WaitingApprovalTotal.Milliseconds(), slaStatus, nullString(e.DropReason),
		nullBytes(errDetail), nullString(e.ApprovalID), e.ShadowMode, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: save execution %s: %w", e.ID, err)
	}
	return nil
}

// ClaimExecutions locks up to limit EXECUTING rows with no live heartbeat
// using SELECT ... FOR UPDATE SKIP LOCKED, stamps them with ownerToken and a
// fresh heartbeat, and returns them for dispatch. Mirrors the teacher's
// queue.Worker claim query (pkg/queue/worker.go) adapted from session
// claiming to execution claiming.
func (s *Store) ClaimExecutions(ctx context.Context, ownerToken string, limit int, now time.Time) ([]*model.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pg: claim executions: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const selectQ = `
SELECT id FROM executions
WHERE state = 'EXECUTING' AND (owner_token IS NULL OR owner_token = '')
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED`

	rows, err := tx.QueryContext(ctx, selectQ, limit)
	if err != nil {
		return nil, fmt.Errorf("pg: claim executions: select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("pg: claim executions: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	idList, idArgs := inClause(ids, 3)
	updateQ := `UPDATE executions SET owner_token = $1, heartbeat_at = $2, updated_at = $2 WHERE id IN (` + idList + `)`
	updateArgs := append([]any{ownerToken, now}, idArgs...)
	if _, err := tx.ExecContext(ctx, updateQ, updateArgs...); err != nil {
		return nil, fmt.Errorf("pg: claim executions: update: %w", err)
	}

	idList2, idArgs2 := inClause(ids, 1)
	selectFullQ := execSelectCols + `FROM executions WHERE id IN (` + idList2 + `)`
	fullRows, err := tx.QueryContext(ctx, selectFullQ, idArgs2...)
	if err != nil {
		return nil, fmt.Errorf("pg: claim executions: reselect: %w", err)
	}
	defer fullRows.Close()

	var out []*model.Execution
	for fullRows.Next() {
		e, err := scanExecution(fullRows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := fullRows.Err(); err != nil {
		return nil, err
	}

	return out, tx.Commit()
}

// Heartbeat refreshes the owning worker's liveness stamp on a claimed
// execution, resetting the orphan-detection clock (spec engine §4.G).
func (s *Store) Heartbeat(ctx context.Context, executionID, ownerToken string, now time.Time) error {
	const q = `UPDATE executions SET heartbeat_at = $1 WHERE id = $2 AND owner_token = $3`
	res, err := s.db.ExecContext(ctx, q, now, executionID, ownerToken)
	if err != nil {
		return fmt.Errorf("pg: heartbeat %s: %w", executionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pg: heartbeat %s: rows affected: %w", executionID, err)
	}
	if n == 0 {
		return fmt.Errorf("pg: heartbeat %s: execution not owned by %s", executionID, ownerToken)
	}
	return nil
}

// ReleaseExecution clears ownership so an EXECUTING row becomes claimable
// again by any worker.
func (s *Store) ReleaseExecution(ctx context.Context, executionID string) error {
	const q = `UPDATE executions SET owner_token = NULL, heartbeat_at = NULL WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, executionID)
	if err != nil {
		return fmt.Errorf("pg: release execution %s: %w", executionID, err)
	}
	return nil
}

// RecoverOrphans clears ownership on any EXECUTING row whose heartbeat is
// older than threshold, making it reclaimable by another worker. Mirrors
// the teacher's orphan.Detector sweep (pkg/queue/orphan.go).
func (s *Store) RecoverOrphans(ctx context.Context, now time.Time, threshold time.Duration) (int, error) {
	const q = `
UPDATE executions SET owner_token = NULL, heartbeat_at = NULL
WHERE state = 'EXECUTING' AND owner_token IS NOT NULL
  AND heartbeat_at IS NOT NULL AND heartbeat_at < $1`
	res, err := s.db.ExecContext(ctx, q, now.Add(-threshold))
	if err != nil {
		return 0, fmt.Errorf("pg: recover orphans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pg: recover orphans: rows affected: %w", err)
	}
	return int(n), nil
}

// ListExecutions returns executions in state, most recent first, for the
// security/history observability surface.
func (s *Store) ListExecutions(ctx context.Context, state model.ExecutionState, limit int) ([]*model.Execution, error) {
	const q = execSelectCols + `FROM executions WHERE state = $1 ORDER BY event_time DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, state, limit)
	if err != nil {
		return nil, fmt.Errorf("pg: list executions in state %s: %w", state, err)
	}
	defer rows.Close()

	var out []*model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// NewOwnerToken returns a fresh random token identifying one worker's claim
// lease, analogous to the teacher's per-worker session owner id.
func NewOwnerToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pg: generate owner token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

const execSelectCols = `
SELECT id, playbook_id, playbook_name, playbook_version, state, trigger_data,
       trigger_snapshot, event_time, event_time_source, webhook_id, fingerprint,
       steps, current_step, dispatch_count, webhook_received_at, acknowledged_at,
       started_at, completed_at, duration_ms, waiting_approval_since,
       waiting_approval_total_ms, sla_status, drop_reason, error, approval_id,
       shadow_mode, created_at, updated_at
`

func scanExecution(row rowScanner) (*model.Execution, error) {
	var e model.Execution
	var (
		triggerData     []byte
		triggerSnapshot []byte
		webhookID       sql.NullString
		steps           []byte
		currentStep     sql.NullString
		acknowledgedAt  sql.NullTime
		startedAt       sql.NullTime
		waitingTotalMS  int64
		slaStatus       []byte
		dropReason      sql.NullString
		errDetail       []byte
		approvalID      sql.NullString
	)
	if err := row.Scan(&e.ID, &e.PlaybookID, &e.PlaybookName, &e.PlaybookVersion, &e.State,
		&triggerData, &triggerSnapshot, &e.EventTime, &e.EventTimeSource, &webhookID, &e.Fingerprint,
		&steps, &currentStep, &e.DispatchCount, &e.WebhookReceivedAt, &acknowledgedAt,
		&startedAt, &e.CompletedAt, &e.DurationMS, &e.WaitingApprovalSince,
		&waitingTotalMS, &slaStatus, &dropReason, &errDetail, &approvalID,
		&e.ShadowMode, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerData, &e.TriggerData); err != nil {
		return nil, fmt.Errorf("pg: unmarshal trigger_data: %w", err)
	}
	if err := json.Unmarshal(triggerSnapshot, &e.TriggerSnapshot); err != nil {
		return nil, fmt.Errorf("pg: unmarshal trigger_snapshot: %w", err)
	}
	if err := json.Unmarshal(steps, &e.Steps); err != nil {
		return nil, fmt.Errorf("pg: unmarshal steps: %w", err)
	}
	if err := json.Unmarshal(slaStatus, &e.SLAStatus); err != nil {
		return nil, fmt.Errorf("pg: unmarshal sla_status: %w", err)
	}
	if len(errDetail) > 0 {
		var ed model.ErrorDetail
		if err := json.Unmarshal(errDetail, &ed); err != nil {
			return nil, fmt.Errorf("pg: unmarshal error detail: %w", err)
		}
		e.Error = &ed
	}

	e.WebhookID = webhookID.String
	e.CurrentStep = currentStep.String
	e.AcknowledgedAt = acknowledgedAt.Time
	e.StartedAt = startedAt.Time
	e.WaitingApprovalTotal = time.Duration(waitingTotalMS) * time.Millisecond
	e.DropReason = dropReason.String
	e.ApprovalID = approvalID.String

	return &e, nil
}
