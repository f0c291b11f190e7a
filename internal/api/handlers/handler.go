package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/api/middleware"
	"github.com/leozw/blueprint-sot/internal/blueprint"
	"github.com/leozw/blueprint-sot/internal/clone"
	"github.com/leozw/blueprint-sot/internal/config"
	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/sot"
	"github.com/leozw/blueprint-sot/internal/storage"
	"github.com/leozw/blueprint-sot/internal/templates"
)

type Services struct {
	Store     storage.Store
	Templates *templates.Registry
	Clones    *clone.Orchestrator
	Exporter  *blueprint.Exporter
	SOT       *sot.Engine
}

type Handler struct {
	store     storage.Store
	templates *templates.Registry
	clones    *clone.Orchestrator
	exporter  *blueprint.Exporter
	sot       *sot.Engine
	instance  config.InstanceConfig
	logger    *zap.Logger
}

// NewHandler serves the API for the local instance described by instance;
// requests that omit an instance id act on it.
func NewHandler(svc Services, instance config.InstanceConfig, logger *zap.Logger) *Handler {
	return &Handler{
		store:     svc.Store,
		templates: svc.Templates,
		clones:    svc.Clones,
		exporter:  svc.Exporter,
		sot:       svc.SOT,
		instance:  instance,
		logger:    logger,
	}
}

func (h *Handler) instanceID(requested string) string {
	if requested != "" {
		return requested
	}
	return h.instance.ID
}

func actor(c *gin.Context) string {
	return c.GetString(middleware.ContextActor)
}

// respondError maps the error taxonomy onto HTTP status codes.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, core.ErrTemplateNotCloneable), errors.Is(err, core.ErrVersionIncompatible):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrSyncTransport):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit < 1 || limit > max {
		return def
	}
	return limit
}
