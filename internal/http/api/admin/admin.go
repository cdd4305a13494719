// Package admin exposes the operator-facing HTTP API: budgets, rates,
// approval decisions, provider health, settings, and audit.
package admin

import (
	"net/http"
	"strings"

	"github.com/aethergate/aethergate/internal/audit"
	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/config"
	"github.com/aethergate/aethergate/internal/http/api/admin/handlers"
	"github.com/aethergate/aethergate/internal/ledger"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/provider"
	"github.com/aethergate/aethergate/internal/security"
	"github.com/aethergate/aethergate/internal/trace"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the components the admin API manages.
type Deps struct {
	DB       *gorm.DB
	JWT      config.JWTConfig
	Governor *budget.Governor
	Rates    *ledger.Rates
	Gate     *trace.Gate
	Registry *provider.Registry
	Auditor  *audit.Recorder
}

// RegisterAdminRoutes registers operator login and authenticated admin
// routes.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	admin := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWT)
	admin.POST("/login", authHandler.Login)

	authed := admin.Group("")
	authed.Use(operatorAuthMiddleware(deps.DB, deps.JWT))

	operatorHandler := handlers.NewOperatorHandler(deps.DB)
	authed.POST("/operators", operatorHandler.Create)

	budgetHandler := handlers.NewBudgetAdminHandler(deps.DB, deps.Governor)
	authed.GET("/budgets", budgetHandler.List)
	authed.PUT("/budgets", budgetHandler.Upsert)

	rateHandler := handlers.NewRateHandler(deps.DB, deps.Rates)
	authed.GET("/rates", rateHandler.List)
	authed.PUT("/rates", rateHandler.Upsert)
	authed.POST("/rates/refresh", rateHandler.Refresh)

	approvalHandler := handlers.NewApprovalAdminHandler(deps.Gate)
	authed.POST("/approvals/:id/approve", approvalHandler.Approve)
	authed.POST("/approvals/:id/reject", approvalHandler.Reject)

	providerHandler := handlers.NewProviderHandler(deps.Registry)
	authed.GET("/providers", providerHandler.List)

	auditHandler := handlers.NewAuditHandler(deps.Auditor)
	authed.GET("/audit", auditHandler.List)

	settingHandler := handlers.NewSettingHandler(deps.DB)
	authed.GET("/settings", settingHandler.List)
	authed.PUT("/settings/:key", settingHandler.Put)
}

// operatorAuthMiddleware validates operator JWTs.
func operatorAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseOperatorToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var operator models.Operator
		if errFind := db.WithContext(c.Request.Context()).First(&operator, claims.OperatorID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator not found"})
			return
		}
		if operator.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "operator disabled"})
			return
		}

		c.Set("operatorID", operator.ID)
		c.Set("operatorName", operator.Username)
		c.Next()
	}
}
