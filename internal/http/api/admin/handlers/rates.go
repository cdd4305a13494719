package handlers

import (
	"net/http"
	"strings"

	"github.com/aethergate/aethergate/internal/ledger"
	"github.com/aethergate/aethergate/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateHandler manages the provider/model pricing table.
type RateHandler struct {
	db    *gorm.DB
	rates *ledger.Rates
}

// NewRateHandler constructs a RateHandler.
func NewRateHandler(db *gorm.DB, rates *ledger.Rates) *RateHandler {
	return &RateHandler{db: db, rates: rates}
}

// List returns all rate rows.
func (h *RateHandler) List(c *gin.Context) {
	var rows []models.ModelRate
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("provider, model").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query rates failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rates": rows})
}

// upsertRateRequest defines the request body for rate upsert.
type upsertRateRequest struct {
	Provider              string `json:"provider"`
	Model                 string `json:"model"`
	InputRateMicrosPer1K  int64  `json:"inputRateMicrosPer1k"`
	OutputRateMicrosPer1K int64  `json:"outputRateMicrosPer1k"`
	IsEnabled             *bool  `json:"isEnabled"`
}

// Upsert creates or updates one rate row and refreshes the in-memory
// snapshot so pricing takes effect immediately.
func (h *RateHandler) Upsert(c *gin.Context) {
	var body upsertRateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	providerID := strings.TrimSpace(body.Provider)
	model := strings.TrimSpace(body.Model)
	if providerID == "" || model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing provider or model"})
		return
	}
	if body.InputRateMicrosPer1K < 0 || body.OutputRateMicrosPer1K < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "negative rate"})
		return
	}
	enabled := true
	if body.IsEnabled != nil {
		enabled = *body.IsEnabled
	}

	row := models.ModelRate{
		Provider:              providerID,
		Model:                 model,
		InputRateMicrosPer1K:  body.InputRateMicrosPer1K,
		OutputRateMicrosPer1K: body.OutputRateMicrosPer1K,
		IsEnabled:             enabled,
	}
	if errUpsert := h.db.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "model"}},
			DoUpdates: clause.AssignmentColumns([]string{"input_rate_micros_per_1k", "output_rate_micros_per_1k", "is_enabled"}),
		}).
		Create(&row).Error; errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upsert rate failed"})
		return
	}

	if errRefresh := h.rates.Refresh(c.Request.Context()); errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh rates failed"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// Refresh reloads the rate snapshot from the database.
func (h *RateHandler) Refresh(c *gin.Context) {
	if errRefresh := h.rates.Refresh(c.Request.Context()); errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh rates failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
