package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/leozw/blueprint-sot/internal/clone"
)

// RequestClone accepts the request and returns the pending operation;
// provisioning continues in the background.
func (h *Handler) RequestClone(c *gin.Context) {
	var req clone.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.Actor = actor(c)

	op, err := h.clones.RequestClone(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Location", "/api/v1/clones/"+strconv.FormatInt(op.ID, 10))
	c.JSON(http.StatusAccepted, op)
}

func (h *Handler) GetClone(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	op, err := h.clones.GetOperation(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *Handler) ListClones(c *gin.Context) {
	var templateID *int64
	if raw := c.Query("templateId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid templateId"})
			return
		}
		templateID = &id
	}

	ops, err := h.clones.ListOperations(c.Request.Context(), templateID, queryLimit(c, 100, 500))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops, "total": len(ops)})
}
