package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/aethergate/aethergate/internal/trace"

	"github.com/gin-gonic/gin"
)

// ApprovalAdminHandler resolves pending approval gates.
type ApprovalAdminHandler struct {
	gate *trace.Gate
}

// NewApprovalAdminHandler constructs an ApprovalAdminHandler.
func NewApprovalAdminHandler(gate *trace.Gate) *ApprovalAdminHandler {
	return &ApprovalAdminHandler{gate: gate}
}

// Approve marks a pending step approved. The suspended request resumes
// in the background. Repeated calls are no-ops.
func (h *ApprovalAdminHandler) Approve(c *gin.Context) {
	traceID, ok := parseTraceID(c)
	if !ok {
		return
	}
	row, errApprove := h.gate.Approve(c.Request.Context(), traceID, operatorName(c))
	if errApprove != nil {
		writeApprovalError(c, errApprove)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trace_id":        row.ID,
		"request_id":      row.RequestID,
		"approval_status": row.ApprovalStatus,
	})
}

// rejectRequest defines the request body for rejection.
type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject marks a pending step rejected and fails the owning request.
// Repeated calls are no-ops.
func (h *ApprovalAdminHandler) Reject(c *gin.Context) {
	traceID, ok := parseTraceID(c)
	if !ok {
		return
	}
	var body rejectRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	row, errReject := h.gate.Reject(c.Request.Context(), traceID, operatorName(c), body.Reason)
	if errReject != nil {
		writeApprovalError(c, errReject)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trace_id":         row.ID,
		"request_id":       row.RequestID,
		"approval_status":  row.ApprovalStatus,
		"rejection_reason": row.RejectionReason,
	})
}

func parseTraceID(c *gin.Context) (uint64, bool) {
	traceID, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || traceID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trace id"})
		return 0, false
	}
	return traceID, true
}

func writeApprovalError(c *gin.Context, err error) {
	if errors.Is(err, trace.ErrTraceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "decision step not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "approval decision failed"})
}
