package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/settings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingHandler manages runtime-tunable settings.
type SettingHandler struct {
	db *gorm.DB
}

// NewSettingHandler constructs a SettingHandler.
func NewSettingHandler(db *gorm.DB) *SettingHandler {
	return &SettingHandler{db: db}
}

// List returns all settings rows.
func (h *SettingHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("key").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query settings failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": rows})
}

// putSettingRequest defines the request body for a setting write.
type putSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// Put writes one setting and refreshes the in-memory snapshot so the
// value takes effect without a restart.
func (h *SettingHandler) Put(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing key"})
		return
	}
	var body putSettingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Value) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing value"})
		return
	}

	row := models.Setting{Key: key, Value: datatypes.JSON(body.Value)}
	if errUpsert := h.db.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&row).Error; errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write setting failed"})
		return
	}

	if errRefresh := settings.RefreshSnapshot(c.Request.Context(), h.db); errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh settings failed"})
		return
	}
	c.JSON(http.StatusOK, row)
}
