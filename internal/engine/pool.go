package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cyberguard/soar-engine/internal/config"
)

// Pool runs cfg.WorkerCount workers claiming and driving executions, plus
// a ticker-based orphan-recovery sweep. Grounded on the teacher's
// pkg/queue/pool.go WorkerPool.
type Pool struct {
	engine *Engine
	cfg    *config.EngineConfig

	workers []*Worker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewPool returns a Pool ready to Start.
func NewPool(engine *Engine, cfg *config.EngineConfig) *Pool {
	return &Pool{engine: engine, cfg: cfg, stopCh: make(chan struct{})}
}

// Start spawns the worker goroutines and the orphan-detection loop.
// Idempotent: a second call is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	n := p.cfg.WorkerCount
	if n <= 0 {
		n = 1
	}
	p.workers = make([]*Worker, n)
	for i := 0; i < n; i++ {
		w := newWorker(i, p.engine, p.cfg)
		p.workers[i] = w
		w.Start(ctx)
	}

	p.wg.Add(1)
	go p.runOrphanDetection(ctx)
}

// Stop signals every worker to finish its current execution and exit, then
// stops orphan detection, waiting for both.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()
}

func (p *Pool) runOrphanDetection(ctx context.Context) {
	defer p.wg.Done()
	interval := p.cfg.OrphanDetectionInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.detectAndRecoverOrphans(ctx)
		}
	}
}

func (p *Pool) detectAndRecoverOrphans(ctx context.Context) {
	threshold := p.cfg.OrphanThreshold
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}
	n, err := p.engine.Executions.RecoverOrphans(ctx, time.Now(), threshold)
	if err != nil {
		p.engine.log.Error("orphan detection failed", "error", err)
		return
	}
	if n > 0 {
		p.engine.log.Info("recovered orphaned executions", "count", n)
	}
}
