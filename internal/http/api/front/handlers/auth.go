// Package handlers implements the member-facing HTTP handlers.
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

// AuthHandler handles member authentication endpoints.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg}
}

// loginRequest defines the request body for member login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates a member and issues a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.TrimSpace(strings.ToLower(body.Email))
	if email == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing credentials"})
		return
	}

	var member models.Member
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("email = ?", email).
		First(&member).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if member.Disabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "member disabled"})
		return
	}
	if !security.CheckPassword(member.PasswordHash, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, errToken := security.GenerateMemberToken(h.jwtCfg.Secret, member.ID, member.OrgID, member.Email, time.Duration(h.jwtCfg.Expiry))
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":  token,
		"email":  member.Email,
		"org_id": member.OrgID,
	})
}

// orgScope pulls the authenticated member and org ids from context.
func orgScope(c *gin.Context) (memberID, orgID uint64, ok bool) {
	mid, okMember := c.Get("memberID")
	oid, okOrg := c.Get("orgID")
	if !okMember || !okOrg {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return 0, 0, false
	}
	memberID, okMember = mid.(uint64)
	orgID, okOrg = oid.(uint64)
	if !okMember || !okOrg {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return 0, 0, false
	}
	return memberID, orgID, true
}
