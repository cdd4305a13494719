package handlers

import (
	"net/http"
	"strconv"

	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// BudgetAdminHandler manages organization budget ceilings.
type BudgetAdminHandler struct {
	db       *gorm.DB
	governor *budget.Governor
}

// NewBudgetAdminHandler constructs a BudgetAdminHandler.
func NewBudgetAdminHandler(db *gorm.DB, governor *budget.Governor) *BudgetAdminHandler {
	return &BudgetAdminHandler{db: db, governor: governor}
}

// List returns budget rows, optionally filtered by org.
func (h *BudgetAdminHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Budget{})
	if raw := c.Query("org_id"); raw != "" {
		orgID, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid org_id"})
			return
		}
		q = q.Where("org_id = ?", orgID)
	}
	var rows []models.Budget
	if errFind := q.Order("org_id, period").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query budgets failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"budgets": rows})
}

// upsertBudgetRequest defines the request body for budget upsert.
type upsertBudgetRequest struct {
	OrgID       uint64 `json:"orgId"`
	Period      string `json:"period"`
	LimitMicros int64  `json:"limitMicros"`
}

// Upsert creates or updates one org budget ceiling. Spend accounting is
// untouched; only the limit moves.
func (h *BudgetAdminHandler) Upsert(c *gin.Context) {
	var body upsertBudgetRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.OrgID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing orgId"})
		return
	}
	period := models.BudgetPeriod(body.Period)
	if !period.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period"})
		return
	}
	if body.LimitMicros < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "negative limit"})
		return
	}

	row, errUpsert := h.governor.UpsertBudget(c.Request.Context(), body.OrgID, period, body.LimitMicros)
	if errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upsert budget failed"})
		return
	}
	c.JSON(http.StatusOK, row)
}
