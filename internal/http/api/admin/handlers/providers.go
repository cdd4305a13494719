package handlers

import (
	"net/http"

	"github.com/aethergate/aethergate/internal/provider"

	"github.com/gin-gonic/gin"
)

// ProviderHandler exposes registered providers and their liveness.
type ProviderHandler struct {
	registry *provider.Registry
}

// NewProviderHandler constructs a ProviderHandler.
func NewProviderHandler(registry *provider.Registry) *ProviderHandler {
	return &ProviderHandler{registry: registry}
}

// List returns every registered provider with its cached availability.
func (h *ProviderHandler) List(c *gin.Context) {
	descriptors := h.registry.Descriptors()
	out := make([]gin.H, 0, len(descriptors))
	for _, desc := range descriptors {
		out = append(out, gin.H{
			"id":        desc.ID,
			"tier":      desc.Tier,
			"models":    desc.Models,
			"priority":  desc.Priority,
			"key_based": desc.KeyBased(),
			"alive":     h.registry.Alive(c.Request.Context(), desc),
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}
