package handlers

import (
	"net/http"
	"strconv"

	"github.com/aethergate/aethergate/internal/audit"

	"github.com/gin-gonic/gin"
)

// AuditHandler serves the governance audit log.
type AuditHandler struct {
	auditor *audit.Recorder
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(auditor *audit.Recorder) *AuditHandler {
	return &AuditHandler{auditor: auditor}
}

// List returns recent audit entries for an organization, newest first.
func (h *AuditHandler) List(c *gin.Context) {
	orgID, errParse := strconv.ParseUint(c.Query("org_id"), 10, 64)
	if errParse != nil || orgID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid org_id"})
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, errLimit := strconv.Atoi(raw)
		if errLimit != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	rows, errList := h.auditor.List(c.Request.Context(), orgID, limit)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query audit failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows})
}
