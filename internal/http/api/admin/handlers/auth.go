// Package handlers implements the operator-facing HTTP handlers.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/aethergate/aethergate/internal/config"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/security"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthHandler handles operator authentication.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg}
}

// loginRequest defines the request body for operator login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates an operator and issues a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing credentials"})
		return
	}

	var operator models.Operator
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("username = ?", username).
		First(&operator).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if operator.Disabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "operator disabled"})
		return
	}
	if !security.CheckPassword(operator.PasswordHash, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, errToken := security.GenerateOperatorToken(h.jwtCfg.Secret, operator.ID, operator.Username, time.Duration(h.jwtCfg.Expiry))
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "username": operator.Username})
}

// operatorName pulls the authenticated operator's username from context.
func operatorName(c *gin.Context) string {
	if name, ok := c.Get("operatorName"); ok {
		if s, okStr := name.(string); okStr {
			return s
		}
	}
	return ""
}
