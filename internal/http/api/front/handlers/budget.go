package handlers

import (
	"net/http"

	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/models"

	"github.com/gin-gonic/gin"
)

// BudgetHandler serves budget inspection endpoints.
type BudgetHandler struct {
	governor *budget.Governor
}

// NewBudgetHandler constructs a BudgetHandler.
func NewBudgetHandler(governor *budget.Governor) *BudgetHandler {
	return &BudgetHandler{governor: governor}
}

// Status returns the daily and monthly budget windows for the caller's
// organization.
func (h *BudgetHandler) Status(c *gin.Context) {
	_, orgID, ok := orgScope(c)
	if !ok {
		return
	}

	out := gin.H{}
	for _, period := range []models.BudgetPeriod{models.BudgetPeriodDaily, models.BudgetPeriodMonthly} {
		status, errStatus := h.governor.GetBudgetStatus(c.Request.Context(), orgID, period)
		if errStatus != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query budget failed"})
			return
		}
		out[string(period)] = status
	}
	c.JSON(http.StatusOK, out)
}
