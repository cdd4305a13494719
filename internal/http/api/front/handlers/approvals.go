package handlers

import (
	"net/http"

	"github.com/aethergate/aethergate/internal/trace"

	"github.com/gin-gonic/gin"
)

// ApprovalHandler serves pending approval listings for members.
type ApprovalHandler struct {
	gate *trace.Gate
}

// NewApprovalHandler constructs an ApprovalHandler.
func NewApprovalHandler(gate *trace.Gate) *ApprovalHandler {
	return &ApprovalHandler{gate: gate}
}

// ListPending returns the organization's pending approval steps, oldest
// first.
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	_, orgID, ok := orgScope(c)
	if !ok {
		return
	}
	rows, errList := h.gate.ListPending(c.Request.Context(), orgID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query approvals failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"trace_id":   row.ID,
			"request_id": row.RequestID,
			"step":       row.StepNumber,
			"kind":       row.Kind,
			"decision":   row.Decision,
			"reasoning":  row.Reasoning,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"pending": out})
}
