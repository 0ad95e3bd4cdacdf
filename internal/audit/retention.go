// Package audit implements the retention sweeper for spec §3's "Audit
// Event ... Retained 90 days": it periodically archives aged-out audit
// events to cold storage and deletes them from Postgres. Grounded on the
// teacher's pkg/cleanup/service.go ticker-based sweep shape.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyberguard/soar-engine/internal/config"
	"github.com/cyberguard/soar-engine/internal/model"
)

// Store is the subset of internal/store/pg the retention sweeper needs.
type Store interface {
	ListAuditEventsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.AuditEvent, error)
	DeleteAuditEvents(ctx context.Context, ids []string) error
}

// Archiver ships a batch of aged-out audit events to cold storage before
// they're deleted from Postgres. A nil Archiver on Service disables
// archival entirely (events are deleted without a cold copy).
type Archiver interface {
	Archive(ctx context.Context, batch []*model.AuditEvent) error
}

// Service periodically enforces the audit-retention policy: list events
// older than cfg.AuditRetentionDays, archive them (if an Archiver is
// configured), then delete them from Postgres. Archival failure aborts
// the batch's deletion so no event is lost; deletion failure is logged
// and retried on the next tick (spec §7 "background sweepers swallow
// errors with structured logs and continue").
type Service struct {
	cfg   *config.RetentionConfig
	store Store
	arch  Archiver
	log   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService returns a Service ready to Start. arch may be nil.
func NewService(cfg *config.RetentionConfig, store Store, arch Archiver, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, store: store, arch: arch, log: log.With("component", "audit.retention")}
}

// Start launches the background sweep loop. Idempotent: a second call
// while already running is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.log.Info("audit retention sweeper started",
		"retention_days", s.cfg.AuditRetentionDays,
		"interval", s.cfg.CleanupInterval,
		"archive_enabled", s.arch != nil)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.log.Info("audit retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.AuditRetentionDays)
	batchSize := s.cfg.ArchiveBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	for {
		batch, err := s.store.ListAuditEventsOlderThan(ctx, cutoff, batchSize)
		if err != nil {
			s.log.Error("retention: list aged-out audit events failed", "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}

		if s.arch != nil {
			if err := s.arch.Archive(ctx, batch); err != nil {
				s.log.Error("retention: archive batch failed, skipping delete", "error", err, "count", len(batch))
				return
			}
		}

		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		if err := s.store.DeleteAuditEvents(ctx, ids); err != nil {
			s.log.Error("retention: delete aged-out audit events failed", "error", err)
			return
		}
		s.log.Info("retention: archived and deleted audit events", "count", len(batch))

		if len(batch) < batchSize {
			return
		}
	}
}

// marshalBatch renders a batch of audit events as newline-delimited JSON,
// the object body an Archiver's S3 implementation uploads.
func marshalBatch(batch []*model.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("audit: encode event %s: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}
