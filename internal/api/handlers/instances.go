package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/core"
)

type UpdateInstanceRequest struct {
	BlueprintVersion string            `json:"blueprintVersion" binding:"required"`
	Pages            core.Pages        `json:"pages"`
	Tools            core.Tools        `json:"tools"`
	FeatureFlags     core.FeatureFlags `json:"featureFlags"`
}

func (h *Handler) GetInstance(c *gin.Context) {
	profile, err := h.store.GetClientProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateInstance replaces the configuration state of an instance.
func (h *Handler) UpdateInstance(c *gin.Context) {
	var req UpdateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, ok := core.CanonicalVersion(req.BlueprintVersion); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid blueprintVersion"})
		return
	}

	ctx := c.Request.Context()
	instanceID := c.Param("id")

	state := core.InstanceState{
		BlueprintVersion: req.BlueprintVersion,
		Pages:            req.Pages,
		Tools:            req.Tools,
		FeatureFlags:     req.FeatureFlags,
	}
	if err := h.store.ApplyInstanceState(ctx, instanceID, state); err != nil {
		h.respondError(c, err)
		return
	}

	profile, err := h.store.GetClientProfile(ctx, instanceID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Instance updated",
		zap.String("instance_id", instanceID),
		zap.Int("pages", len(profile.Pages)),
		zap.String("actor", actor(c)),
	)
	c.JSON(http.StatusOK, profile)
}
