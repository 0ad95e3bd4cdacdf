package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cyberguard/soar-engine/internal/approval"
	"github.com/cyberguard/soar-engine/internal/audit"
	"github.com/cyberguard/soar-engine/internal/config"
	"github.com/cyberguard/soar-engine/internal/connector"
	"github.com/cyberguard/soar-engine/internal/engine"
	"github.com/cyberguard/soar-engine/internal/httpapi"
	"github.com/cyberguard/soar-engine/internal/ingest"
	"github.com/cyberguard/soar-engine/internal/schemavalidate"
	"github.com/cyberguard/soar-engine/internal/seccache"
	"github.com/cyberguard/soar-engine/internal/secfilter"
	"github.com/cyberguard/soar-engine/internal/sla"
	"github.com/cyberguard/soar-engine/internal/store/pg"
	"github.com/cyberguard/soar-engine/internal/telemetry"
	"github.com/cyberguard/soar-engine/internal/trigger"
	"github.com/cyberguard/soar-engine/internal/webhookauth"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline, execution engine, and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(cfgDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := pg.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	log.Info("connected to postgres")

	registry := connector.NewRegistry()
	for id, url := range parseConnectorMap(os.Getenv("CONNECTOR_HTTP_MAP")) {
		registry.Register(id, &connector.HTTPConnector{BaseURL: url})
	}

	telem, err := telemetry.New("soar-engine")
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer telem.Shutdown(context.Background())

	apprMgr := approval.New(store, nil, log)
	apprMgr.Audit = store

	eng := engine.New(store, store, registry, trigger.New(), apprMgr, sla.New(store), pg.NewOwnerToken, log)
	eng.Telemetry = telem
	apprMgr.Resumer = eng

	pool := engine.NewPool(eng, cfg.Engine)
	pool.Start(ctx)
	defer pool.Stop()

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go apprMgr.RunSweeper(sweepCtx, cfg.Approval.SweepInterval)

	archiver, err := audit.NewS3Archiver(ctx, cfg.AWSRegion, cfg.Retention.ArchiveS3Bucket, cfg.Retention.ArchiveS3Prefix)
	if err != nil {
		return fmt.Errorf("init audit archiver: %w", err)
	}
	var arch audit.Archiver
	if archiver != nil {
		arch = archiver
	}
	retention := audit.NewService(cfg.Retention, store, arch, log)
	retention.Start(ctx)
	defer retention.Stop()

	cache := newSecurityCache(log)
	security := secfilter.New(cfg.Security.Into(), cache)
	security.Telemetry = telem

	pipeline := &ingest.Pipeline{
		Security:      security,
		Auth:          webhookauth.New(store),
		Triggers:      store,
		Playbooks:     store,
		Executions:    store,
		Conditions:    trigger.New(),
		SLA:           sla.New(store),
		Schema:        schemavalidate.New(),
		Audit:         store,
		Webhooks:      store,
		DedupWindow:   10 * time.Minute,
		BucketSeconds: 60,
	}

	srv := httpapi.NewServer(pipeline, apprMgr, security, cfg.JWTSecret, store.Ping)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "port", cfg.HTTPPort)
		if err := srv.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	return nil
}

// newSecurityCache backs the security filter with Redis when REDIS_URL is
// set, falling back to the in-memory cache for a single-process
// deployment (spec §9 "replacing in-memory security caches with an
// external store" is opt-in, not mandatory).
func newSecurityCache(log *slog.Logger) seccache.Cache {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		return seccache.NewMemoryCache(log)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Error("invalid REDIS_URL, falling back to in-memory cache", "error", err)
		return seccache.NewMemoryCache(log)
	}
	return seccache.NewRedisCache(redis.NewClient(opts), "secfilter")
}

// parseConnectorMap parses "id=url,id2=url2" into a lookup table of
// generic HTTP connectors, the bring-your-own-backend wiring point for
// deployments that don't need a bespoke Connector implementation.
func parseConnectorMap(raw string) map[string]string {
	out := make(map[string]string)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
