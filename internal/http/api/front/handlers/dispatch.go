package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/dispatch"
	"github.com/aethergate/aethergate/internal/engine"
	"github.com/aethergate/aethergate/internal/ledger"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/selector"
	"github.com/aethergate/aethergate/internal/trace"

	"github.com/gin-gonic/gin"
)

// DispatchHandler serves request dispatch and inspection endpoints.
type DispatchHandler struct {
	engine *engine.Orchestrator
	tracer *trace.Service
}

// NewDispatchHandler constructs a DispatchHandler.
func NewDispatchHandler(orchestrator *engine.Orchestrator, tracer *trace.Service) *DispatchHandler {
	return &DispatchHandler{engine: orchestrator, tracer: tracer}
}

// dispatchRequest defines the request body for dispatch.
type dispatchRequest struct {
	Prompt          string `json:"prompt"`
	TaskHint        string `json:"taskHint"`
	PreferQuality   bool   `json:"preferQuality"`
	MaxOutputTokens int64  `json:"maxOutputTokens"`
}

// Dispatch runs one orchestrated request.
func (h *DispatchHandler) Dispatch(c *gin.Context) {
	memberID, orgID, ok := orgScope(c)
	if !ok {
		return
	}

	var body dispatchRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing prompt"})
		return
	}

	outcome, errDispatch := h.engine.Dispatch(c.Request.Context(), orgID, engine.TaskSpec{
		MemberID:        &memberID,
		TaskHint:        body.TaskHint,
		PreferQuality:   body.PreferQuality,
		Prompt:          body.Prompt,
		MaxOutputTokens: body.MaxOutputTokens,
	})
	if errDispatch != nil {
		writeDispatchError(c, errDispatch)
		return
	}

	if outcome.Result == nil {
		c.JSON(http.StatusAccepted, gin.H{
			"request_id": outcome.Request.PublicID,
			"state":      outcome.Request.State,
			"pending_approval": gin.H{
				"trace_id": outcome.PendingTrace.ID,
				"step":     outcome.PendingTrace.StepNumber,
				"kind":     outcome.PendingTrace.Kind,
			},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id": outcome.Request.PublicID,
		"state":      outcome.Request.State,
		"provider":   outcome.Result.ProviderID,
		"model":      outcome.Result.Model,
		"content":    outcome.Result.Content,
		"usage": gin.H{
			"input_tokens":  outcome.Result.Usage.InputTokens,
			"output_tokens": outcome.Result.Usage.OutputTokens,
			"total_tokens":  outcome.Result.Usage.Total(),
		},
	})
}

// writeDispatchError maps engine errors to structured HTTP responses.
func writeDispatchError(c *gin.Context, err error) {
	var denial *budget.ExceededError
	if errors.As(err, &denial) {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":            "budget_exceeded",
			"period":           denial.Period,
			"reason":           denial.Reason,
			"spent_micros":     denial.SpentMicros,
			"limit_micros":     denial.LimitMicros,
			"estimated_micros": denial.EstimatedMicros,
		})
		return
	}
	if errors.Is(err, selector.ErrNoProviderAvailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no_provider_available"})
		return
	}
	var exhausted *dispatch.AllProvidersFailedError
	if errors.As(err, &exhausted) {
		failures := make([]gin.H, 0, len(exhausted.Failures))
		for _, f := range exhausted.Failures {
			failures = append(failures, gin.H{
				"provider":  f.ProviderID,
				"model":     f.Model,
				"reason":    f.Reason,
				"transient": f.Transient,
				"attempts":  f.Attempts,
			})
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "all_providers_failed",
			"failures": failures,
		})
		return
	}
	var write *ledger.WriteError
	if errors.As(err, &write) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage_record_failed"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
}

// Get returns one request by its public id.
func (h *DispatchHandler) Get(c *gin.Context) {
	_, orgID, ok := orgScope(c)
	if !ok {
		return
	}
	request, errGet := h.engine.GetRequest(c.Request.Context(), orgID, c.Param("id"))
	if errGet != nil {
		if errors.Is(errGet, engine.ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query request failed"})
		return
	}
	c.JSON(http.StatusOK, requestJSON(request))
}

// Trace returns a request's decision trace in step order.
func (h *DispatchHandler) Trace(c *gin.Context) {
	_, orgID, ok := orgScope(c)
	if !ok {
		return
	}
	request, errGet := h.engine.GetRequest(c.Request.Context(), orgID, c.Param("id"))
	if errGet != nil {
		if errors.Is(errGet, engine.ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query request failed"})
		return
	}
	steps, errList := h.tracer.ListForRequest(c.Request.Context(), request.ID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query trace failed"})
		return
	}
	out := make([]gin.H, 0, len(steps))
	for _, step := range steps {
		out = append(out, gin.H{
			"step":             step.StepNumber,
			"kind":             step.Kind,
			"decision":         step.Decision,
			"reasoning":        step.Reasoning,
			"confidence":       step.Confidence,
			"approval_status":  step.ApprovalStatus,
			"rejection_reason": step.RejectionReason,
			"created_at":       step.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"request_id": request.PublicID, "steps": out})
}

func requestJSON(request *models.Request) gin.H {
	return gin.H{
		"request_id":       request.PublicID,
		"state":            request.State,
		"task_hint":        request.TaskHint,
		"prefer_quality":   request.PreferQuality,
		"provider":         request.ProviderID,
		"model":            request.Model,
		"content":          request.Content,
		"failure_reason":   request.FailureReason,
		"rejection_reason": request.RejectionReason,
		"created_at":       request.CreatedAt,
		"updated_at":       request.UpdatedAt,
	}
}
