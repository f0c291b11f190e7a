package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leozw/blueprint-sot/internal/blueprint"
)

type ExportRequest struct {
	InstanceID         string `json:"instanceId" binding:"omitempty,max=128"`
	MakeTenantAgnostic *bool  `json:"makeTenantAgnostic"`
}

func (h *Handler) CreateExport(c *gin.Context) {
	var req ExportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	agnostic := true
	if req.MakeTenantAgnostic != nil {
		agnostic = *req.MakeTenantAgnostic
	}

	export, err := h.exporter.Export(c.Request.Context(), blueprint.ExportRequest{
		InstanceID:         h.instanceID(req.InstanceID),
		MakeTenantAgnostic: agnostic,
		ExportedBy:         actor(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, export)
}

func (h *Handler) GetExport(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	export, err := h.store.GetBlueprintExport(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}
