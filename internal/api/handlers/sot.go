package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leozw/blueprint-sot/internal/sot"
)

// Declare fills omitted fields from the local instance configuration.
func (h *Handler) Declare(c *gin.Context) {
	var req sot.DeclareRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	req.InstanceID = h.instanceID(req.InstanceID)
	if req.InstanceID == h.instance.ID {
		if req.InstanceType == "" {
			req.InstanceType = h.instance.Type
		}
		if req.BlueprintVersion == "" {
			req.BlueprintVersion = h.instance.BlueprintVersion
		}
		if req.CallbackURL == "" {
			req.CallbackURL = h.instance.CallbackURL
		}
		if req.ToolsSupported == nil {
			req.ToolsSupported = h.instance.ToolsSupported
		}
	}

	res, err := h.sot.Declare(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type CheckInRequest struct {
	InstanceID string       `json:"instanceId" binding:"omitempty,max=128"`
	Metrics    *sot.Metrics `json:"metrics"`
}

// CheckIn runs a manual check-in. Metrics are read from the instance
// profile when the body carries none. A failed check-in is still a 200: the
// outcome is in the result and the sync log.
func (h *Handler) CheckIn(c *gin.Context) {
	var req CheckInRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	instanceID := h.instanceID(req.InstanceID)

	var m sot.Metrics
	if req.Metrics != nil {
		m = *req.Metrics
	} else {
		collected, err := h.sot.CollectMetrics(ctx, instanceID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		m = collected
	}

	res, err := h.sot.CheckIn(ctx, instanceID, m, sot.TriggerManual)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Status(c *gin.Context) {
	report, err := h.sot.Health(c.Request.Context(), h.instanceID(c.Query("instanceId")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Logs(c *gin.Context) {
	instanceID := h.instanceID(c.Query("instanceId"))

	logs, err := h.sot.Logs(c.Request.Context(), instanceID, queryLimit(c, 50, 500))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instanceId": instanceID, "logs": logs})
}
