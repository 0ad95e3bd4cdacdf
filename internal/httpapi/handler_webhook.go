package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyberguard/soar-engine/internal/ingest"
	"github.com/cyberguard/soar-engine/internal/webhookauth"
)

// webhookHandler handles POST /webhooks/{webhook_id} (spec §6).
func (s *Server) webhookHandler(c *gin.Context) {
	webhookID := c.Param("webhook_id")

	secret := c.GetHeader("X-Webhook-Secret")
	if secret == "" {
		secret = c.Query("secret")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 2<<20)) // 2MB cap
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "reason": "INVALID_TIMESTAMP", "error": err.Error()})
		return
	}

	req := ingest.WebhookRequest{
		WebhookID:       webhookID,
		PresentedSecret: secret,
		ClientIP:        c.ClientIP(),
		RawBody:         body,
		TimestampHeader: c.GetHeader("X-CyberSentinel-Timestamp"),
		SignatureHeader: c.GetHeader("X-CyberSentinel-Signature"),
		ArrivalTime:     time.Now(),
	}

	result, err := s.pipeline.IngestWebhook(c.Request.Context(), req)
	if err != nil {
		s.writeIngestError(c, err)
		return
	}
	writeIngestResult(c, result)
}

// manualTriggerHandler handles POST /executions/trigger (spec §6).
func (s *Server) manualTriggerHandler(c *gin.Context) {
	var body struct {
		PlaybookID    string         `json:"playbook_id" binding:"required"`
		TriggerData   map[string]any `json:"trigger_data"`
		BypassTrigger bool           `json:"bypass_trigger"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.pipeline.TriggerManual(c.Request.Context(), ingest.ManualTriggerRequest{
		PlaybookID:    body.PlaybookID,
		TriggerData:   body.TriggerData,
		BypassTrigger: body.BypassTrigger,
		ArrivalTime:   time.Now(),
	})
	if err != nil {
		s.writeIngestError(c, err)
		return
	}
	writeIngestResult(c, result)
}

func (s *Server) writeIngestError(c *gin.Context, err error) {
	var authErr *ingest.AuthError
	if errors.As(err, &authErr) {
		if errors.Is(authErr.Err, webhookauth.ErrWebhookNotFound) || errors.Is(authErr.Err, webhookauth.ErrWebhookDisabled) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown webhook"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	var rlErr *ingest.RateLimitError
	if errors.As(err, &rlErr) {
		if rlErr.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(rlErr.RetryAfter.Seconds())))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"status": "rejected", "reason": string(rlErr.Code)})
		return
	}

	slog.Error("ingest: internal error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func writeIngestResult(c *gin.Context, result *ingest.Result) {
	switch result.Outcome {
	case ingest.OutcomeAccepted:
		c.JSON(http.StatusAccepted, gin.H{
			"status":       "accepted",
			"execution_id": result.ExecutionID,
			"playbook_id":  result.PlaybookID,
			"trigger_id":   result.TriggerID,
			"latency_ms":   result.LatencyMS,
		})
	case ingest.OutcomeDropped:
		c.JSON(http.StatusOK, gin.H{"status": "dropped", "reason": string(result.DropReason)})
	case ingest.OutcomeRejected:
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "reason": string(result.RejectReason)})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unrecognized ingestion outcome"})
	}
}
