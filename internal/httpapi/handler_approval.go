package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyberguard/soar-engine/internal/approval"
	"github.com/cyberguard/soar-engine/internal/model"
)

// decideApprovalHandler handles POST /approvals/{approval_id}/decide
// (spec §6).
func (s *Server) decideApprovalHandler(c *gin.Context) {
	approvalID := c.Param("approval_id")

	var body struct {
		Decision string `json:"decision" binding:"required,oneof=approved rejected"`
		Actor    string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := body.Actor
	if actor == "" {
		actor = actorFromContext(c)
	}

	decision := model.DecisionApproved
	if body.Decision == "rejected" {
		decision = model.DecisionRejected
	}

	err := s.approvals.Decide(c.Request.Context(), approvalID, decision, actor, time.Now())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "decided", "approval_id": approvalID, "decision": body.Decision})
	case errors.Is(err, approval.ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{"error": "ALREADY_DECIDED"})
	case errors.Is(err, approval.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "approval not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
