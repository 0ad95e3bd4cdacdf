// Package httpapi exposes the spec §6 external interfaces — webhook
// ingestion, approval decisions, manual triggers, and security
// observability — as a Gin HTTP server. It is thin by design: every
// decision lives in internal/ingest, internal/approval, or
// internal/secfilter; handlers only translate HTTP <-> those calls (spec
// §1 "HTTP framework plumbing" is explicitly an external collaborator).
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyberguard/soar-engine/internal/approval"
	"github.com/cyberguard/soar-engine/internal/ingest"
	"github.com/cyberguard/soar-engine/internal/secfilter"
	"github.com/cyberguard/soar-engine/internal/version"
)

// Server is the HTTP API server fronting the ingestion pipeline.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	pipeline  *ingest.Pipeline
	approvals *approval.Manager
	security  *secfilter.Filter
	jwtSecret string

	healthz func(ctx context.Context) error
}

// NewServer wires routes over pipeline/approvals/security. jwtSecret
// verifies bearer tokens on operator-facing routes (approval decision,
// security observability); an empty jwtSecret fails closed, so those
// routes reject every request with 401.
func NewServer(pipeline *ingest.Pipeline, approvals *approval.Manager, security *secfilter.Filter, jwtSecret string, healthz func(ctx context.Context) error) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	s := &Server{
		engine:    e,
		pipeline:  pipeline,
		approvals: approvals,
		security:  security,
		jwtSecret: jwtSecret,
		healthz:   healthz,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(securityHeaders())

	s.engine.GET("/health", s.healthHandler)

	s.engine.POST("/webhooks/:webhook_id", s.webhookHandler)
	s.engine.POST("/executions/trigger", s.requireAuth(), s.manualTriggerHandler)
	s.engine.POST("/approvals/:approval_id/decide", s.requireAuth(), s.decideApprovalHandler)

	sec := s.engine.Group("/security", s.requireAuth())
	sec.GET("/metrics", s.securityMetricsHandler)
	sec.GET("/config", s.securityConfigHandler)
}

// Start serves on addr, blocking until the server stops or errors.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener, used by tests that
// need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.healthz != nil {
		if err := s.healthz(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full()})
}
