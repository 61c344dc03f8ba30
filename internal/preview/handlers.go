package preview

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumenguard/lumenguard/internal/risk"
)

// Handler exposes the transaction preview endpoint.
type Handler struct {
	previewer *Previewer
}

// NewHandler creates a preview handler.
func NewHandler(previewer *Previewer) *Handler {
	return &Handler{previewer: previewer}
}

// RegisterRoutes sets up preview routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/preview", h.Preview)
}

// Preview handles POST /preview
func (h *Handler) Preview(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "source, destination, asset, and amount are required",
		})
		return
	}

	result, err := h.previewer.Preview(c.Request.Context(), &req)
	if errors.Is(err, risk.ErrInvalidSubject) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_preview",
			"message": err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "preview_failed",
			"message": "Could not load account state from the ledger",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}
