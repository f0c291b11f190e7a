package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/api/middleware"
	"github.com/leozw/blueprint-sot/internal/templates"
)

type RegisterTemplateRequest struct {
	InstanceID       string `json:"instanceId" binding:"omitempty,max=128"`
	InstanceName     string `json:"instanceName" binding:"required,max=200"`
	Description      string `json:"description" binding:"max=2000"`
	IsCloneable      *bool  `json:"isCloneable"`
	BlueprintVersion string `json:"blueprintVersion"`
	TenantID         string `json:"tenantId"`
}

func (h *Handler) RegisterTemplate(c *gin.Context) {
	var req RegisterTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	instanceID := h.instanceID(req.InstanceID)
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = c.GetString(middleware.ContextTenantID)
	}
	if tenantID == "" && instanceID == h.instance.ID {
		tenantID = h.instance.TenantID
	}

	reg := templates.RegisterRequest{
		InstanceID:       instanceID,
		Name:             req.InstanceName,
		Description:      req.Description,
		IsCloneable:      req.IsCloneable,
		BlueprintVersion: req.BlueprintVersion,
	}
	if tenantID != "" {
		reg.TenantID = &tenantID
	}

	t, err := h.templates.Register(c.Request.Context(), reg)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Template registered",
		zap.Int64("template_id", t.ID),
		zap.String("instance_id", t.InstanceID),
		zap.String("actor", actor(c)),
	)
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTemplates(c *gin.Context) {
	activeOnly := c.DefaultQuery("all", "false") != "true"

	list, err := h.templates.List(c.Request.Context(), activeOnly)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": list, "total": len(list)})
}

func (h *Handler) GetTemplate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	t, err := h.templates.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) DeactivateTemplate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	t, err := h.templates.Deactivate(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Template deactivated", zap.Int64("template_id", id), zap.String("actor", actor(c)))
	c.JSON(http.StatusOK, t)
}
