package blacklist

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lumenguard/lumenguard/internal/validation"
)

// Handler provides the admin HTTP endpoints for blacklist management.
type Handler struct {
	svc         *Service
	adminSecret string
	onAdd       func(*Entry) // optional broadcast hook
}

// NewHandler creates a blacklist handler. onAdd may be nil.
func NewHandler(svc *Service, adminSecret string, onAdd func(*Entry)) *Handler {
	return &Handler{svc: svc, adminSecret: adminSecret, onAdd: onAdd}
}

// RegisterRoutes sets up blacklist admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin/blacklist", h.requireAdmin)
	admin.GET("", h.List)
	admin.POST("", h.Add)
	admin.DELETE("/:subject", h.Remove)
}

// requireAdmin checks the X-Admin-Secret header.
func (h *Handler) requireAdmin(c *gin.Context) {
	if h.adminSecret == "" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "admin_disabled",
			"message": "Admin API is not configured",
		})
		c.Abort()
		return
	}
	secret := c.GetHeader("X-Admin-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.adminSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Invalid admin secret",
		})
		c.Abort()
		return
	}
	c.Next()
}

// AddRequest lists a subject.
type AddRequest struct {
	Subject string `json:"subject" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

// Add handles POST /admin/blacklist
func (h *Handler) Add(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "subject and reason are required",
		})
		return
	}

	entry, err := h.svc.Add(c.Request.Context(), req.Subject,
		validation.SanitizeString(req.Reason, validation.MaxDescriptionLength), SourceAdmin, c.ClientIP())
	if errors.Is(err, ErrExists) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_listed",
			"message": "Subject is already blacklisted",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "add_failed",
			"message": "Failed to add blacklist entry",
		})
		return
	}

	if h.onAdd != nil {
		h.onAdd(entry)
	}

	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// Remove handles DELETE /admin/blacklist/:subject
func (h *Handler) Remove(c *gin.Context) {
	err := h.svc.Remove(c.Request.Context(), c.Param("subject"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_listed",
			"message": "Subject is not blacklisted",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "remove_failed",
			"message": "Failed to remove blacklist entry",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// List handles GET /admin/blacklist
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list blacklist entries",
		})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
