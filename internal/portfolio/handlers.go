package portfolio

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumenguard/lumenguard/internal/risk"
)

// Handler exposes the portfolio scan endpoint.
type Handler struct {
	scanner *Scanner
}

// NewHandler creates a portfolio handler.
func NewHandler(scanner *Scanner) *Handler {
	return &Handler{scanner: scanner}
}

// RegisterRoutes sets up portfolio routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/portfolio/:address", h.Scan)
}

// Scan handles GET /portfolio/:address
func (h *Handler) Scan(c *gin.Context) {
	analysis, err := h.scanner.Scan(c.Request.Context(), c.Param("address"))
	if errors.Is(err, risk.ErrInvalidSubject) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Not a valid ledger address",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "scan_failed",
			"message": "Could not load the account from the ledger",
		})
		return
	}
	c.JSON(http.StatusOK, analysis)
}
