package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cyberguard/soar-engine/internal/config"
	"github.com/cyberguard/soar-engine/internal/model"
)

// errNoExecutionsAvailable signals an empty claim poll, distinct from a
// real error, so the worker can back off quietly (grounded on the
// teacher's ErrNoSessionsAvailable in pkg/queue/worker.go).
var errNoExecutionsAvailable = errors.New("engine: no claimable executions")

// Worker repeatedly claims and drives executions one at a time until
// stopped. Grounded on the teacher's pkg/queue/worker.go Worker type.
type Worker struct {
	id     int
	engine *Engine
	cfg    *config.EngineConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newWorker(id int, engine *Engine, cfg *config.EngineConfig) *Worker {
	return &Worker{id: id, engine: engine, cfg: cfg, stopCh: make(chan struct{})}
}

// Start runs the worker's poll loop in a new goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to finish its current execution and exit, then
// blocks until it has.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := w.engine.log.With("worker_id", w.id)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := w.claimAndDrive(ctx)
		if err != nil {
			if errors.Is(err, errNoExecutionsAvailable) {
				w.sleep(w.pollInterval())
				continue
			}
			log.Error("claim/drive failed", "error", err)
			w.sleep(w.pollInterval())
			continue
		}
		if !claimed {
			w.sleep(w.pollInterval())
		}
	}
}

// claimAndDrive claims a single execution (if any) and drives it to a
// terminal state or suspension point.
func (w *Worker) claimAndDrive(ctx context.Context) (bool, error) {
	token, err := w.engine.NewOwnerToken()
	if err != nil {
		return false, err
	}

	execs, err := w.engine.Executions.ClaimExecutions(ctx, token, 1, time.Now())
	if err != nil {
		return false, err
	}
	if len(execs) == 0 {
		return false, errNoExecutionsAvailable
	}
	exec := execs[0]

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	w.wg.Add(1)
	go w.runHeartbeat(heartbeatCtx, exec.ID, token)

	execCtx := ctx
	var cancelExec context.CancelFunc
	if w.cfg.ExecutionTimeout > 0 {
		execCtx, cancelExec = context.WithTimeout(ctx, w.cfg.ExecutionTimeout)
		defer cancelExec()
	}

	if err := w.engine.Drive(execCtx, exec); err != nil {
		w.engine.log.Error("execution drive failed", "execution_id", exec.ID, "error", err)
		return true, nil
	}

	if exec.State == model.ExecExecuting {
		// Drive normally returns with the execution terminal or
		// WAITING_APPROVAL (an expired execution-timeout context finalizes
		// it FAILED with CANCELLED). If it is still EXECUTING, release the
		// claim so another worker can pick it back up.
		_ = w.engine.Executions.ReleaseExecution(ctx, exec.ID)
	}
	return true, nil
}

func (w *Worker) runHeartbeat(ctx context.Context, executionID, token string) {
	defer w.wg.Done()
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.engine.Executions.Heartbeat(ctx, executionID, token, time.Now()); err != nil {
				w.engine.log.Warn("heartbeat failed", "execution_id", executionID, "error", err)
			}
		}
	}
}

// pollInterval jitters cfg.PollInterval by ±cfg.PollIntervalJitter,
// mirroring the teacher's worker.pollInterval.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	delta := time.Duration(rand.Int63n(int64(2*jitter))) - jitter
	d := base + delta
	if d < 0 {
		d = 0
	}
	return d
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

