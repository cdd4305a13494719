// Package front exposes the member-facing HTTP API: dispatch,
// roundtables, budget status, and pending approvals.
package front

import (
	"net/http"
	"strings"

	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/config"
	"github.com/aethergate/aethergate/internal/engine"
	"github.com/aethergate/aethergate/internal/http/api/front/handlers"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/roundtable"
	"github.com/aethergate/aethergate/internal/security"
	"github.com/aethergate/aethergate/internal/trace"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the engine components the front API serves.
type Deps struct {
	DB          *gorm.DB
	JWT         config.JWTConfig
	Engine      *engine.Orchestrator
	Coordinator *roundtable.Coordinator
	Governor    *budget.Governor
	Gate        *trace.Gate
	Tracer      *trace.Service
}

// RegisterFrontRoutes registers public and authenticated front routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	front := r.Group("/v0/front")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWT)
	front.POST("/login", authHandler.Login)

	authed := front.Group("")
	authed.Use(memberAuthMiddleware(deps.DB, deps.JWT))

	dispatchHandler := handlers.NewDispatchHandler(deps.Engine, deps.Tracer)
	authed.POST("/dispatch", dispatchHandler.Dispatch)
	authed.GET("/requests/:id", dispatchHandler.Get)
	authed.GET("/requests/:id/trace", dispatchHandler.Trace)

	roundtableHandler := handlers.NewRoundtableHandler(deps.Coordinator)
	authed.POST("/roundtables", roundtableHandler.Create)
	authed.GET("/roundtables/:id", roundtableHandler.Get)
	authed.POST("/roundtables/:id/rounds", roundtableHandler.RunRound)
	authed.POST("/roundtables/:id/pause", roundtableHandler.Pause)
	authed.POST("/roundtables/:id/resume", roundtableHandler.Resume)
	authed.POST("/roundtables/:id/end", roundtableHandler.End)
	authed.GET("/roundtables/:id/messages", roundtableHandler.Messages)
	authed.POST("/roundtables/:id/messages", roundtableHandler.PostMessage)

	budgetHandler := handlers.NewBudgetHandler(deps.Governor)
	authed.GET("/budget/status", budgetHandler.Status)

	approvalHandler := handlers.NewApprovalHandler(deps.Gate)
	authed.GET("/approvals/pending", approvalHandler.ListPending)

	usageHandler := handlers.NewUsageHandler(deps.DB)
	authed.GET("/usage/stats", usageHandler.Stats)
}

// memberAuthMiddleware validates member JWTs and loads org scope into
// the request context.
func memberAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
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

		claims, errJWT := security.ParseMemberToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var member models.Member
		if errFind := db.WithContext(c.Request.Context()).First(&member, claims.MemberID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "member not found"})
			return
		}
		if member.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "member disabled"})
			return
		}

		c.Set("memberID", member.ID)
		c.Set("orgID", member.OrgID)
		c.Next()
	}
}
