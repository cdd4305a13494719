package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aethergate/aethergate/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UsageHandler serves usage statistics from the ledger.
type UsageHandler struct {
	db *gorm.DB
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB) *UsageHandler {
	return &UsageHandler{db: db}
}

// usageRow is one aggregated provider/model bucket.
type usageRow struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Requests     int64  `json:"requests"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
	CostMicros   int64  `json:"cost_micros"`
}

// Stats aggregates ledger entries for the caller's organization over a
// trailing window (default 30 days, capped at 365).
func (h *UsageHandler) Stats(c *gin.Context) {
	_, orgID, ok := orgScope(c)
	if !ok {
		return
	}

	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
			return
		}
		days = parsed
	}
	if days > 365 {
		days = 365
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	var rows []usageRow
	if errQuery := h.db.WithContext(c.Request.Context()).
		Model(&models.UsageRecord{}).
		Select("provider, model, COUNT(*) AS requests, "+
			"COALESCE(SUM(input_tokens), 0) AS input_tokens, "+
			"COALESCE(SUM(output_tokens), 0) AS output_tokens, "+
			"COALESCE(SUM(total_tokens), 0) AS total_tokens, "+
			"COALESCE(SUM(cost_micros), 0) AS cost_micros").
		Where("org_id = ? AND requested_at >= ?", orgID, since).
		Group("provider, model").
		Order("cost_micros DESC").
		Scan(&rows).Error; errQuery != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query usage failed"})
		return
	}

	var totalRequests, totalTokens, totalCost int64
	for _, row := range rows {
		totalRequests += row.Requests
		totalTokens += row.TotalTokens
		totalCost += row.CostMicros
	}
	c.JSON(http.StatusOK, gin.H{
		"days":              days,
		"total_requests":    totalRequests,
		"total_tokens":      totalTokens,
		"total_cost_micros": totalCost,
		"buckets":           rows,
	})
}
