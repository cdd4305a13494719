package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/security"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// OperatorHandler manages operator accounts.
type OperatorHandler struct {
	db *gorm.DB
}

// NewOperatorHandler constructs an OperatorHandler.
func NewOperatorHandler(db *gorm.DB) *OperatorHandler {
	return &OperatorHandler{db: db}
}

// createOperatorRequest defines the request body for operator creation.
type createOperatorRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Create adds a new operator account.
func (h *OperatorHandler) Create(c *gin.Context) {
	var body createOperatorRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username"})
		return
	}
	if len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too short"})
		return
	}

	var exists models.Operator
	errCheck := h.db.WithContext(c.Request.Context()).
		Where("username = ?", username).
		First(&exists).Error
	if errCheck == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		return
	}
	if !errors.Is(errCheck, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query operator failed"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	operator := models.Operator{Username: username, PasswordHash: hash}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&operator).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create operator failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": operator.ID, "username": operator.Username})
}
