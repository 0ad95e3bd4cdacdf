// Package engine implements the execution engine (spec §4.G): the
// per-execution step dispatch state machine, its worker pool with
// claim/heartbeat/orphan recovery, and approval resumption.
package engine

import (
	"context"
	"time"

	"github.com/cyberguard/soar-engine/internal/model"
)

// ExecutionRepo is the subset of internal/store/pg the engine depends on
// for execution persistence and worker-pool claiming.
type ExecutionRepo interface {
	SaveExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ClaimExecutions(ctx context.Context, ownerToken string, limit int, now time.Time) ([]*model.Execution, error)
	Heartbeat(ctx context.Context, executionID, ownerToken string, now time.Time) error
	ReleaseExecution(ctx context.Context, executionID string) error
	RecoverOrphans(ctx context.Context, now time.Time, threshold time.Duration) (int, error)
}

// PlaybookRepo resolves a playbook by id, used to drive dispatch and
// resume decisions.
type PlaybookRepo interface {
	GetPlaybook(ctx context.Context, playbookID string) (*model.Playbook, error)
}
