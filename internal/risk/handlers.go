package risk

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lumenguard/lumenguard/internal/txparser"
)

// Handler exposes the analysis endpoints.
type Handler struct {
	engine  *Engine
	store   Store
	network string
}

// NewHandler creates a risk handler. store may be nil when the audit trail
// is disabled.
func NewHandler(engine *Engine, store Store, network string) *Handler {
	return &Handler{engine: engine, store: store, network: network}
}

// RegisterRoutes sets up analysis routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/analyze/address/:address", h.AnalyzeAddress)
	r.GET("/analyze/asset/:code/:issuer", h.AnalyzeAsset)
	r.POST("/analyze/transaction", h.AnalyzeTransaction)
	r.GET("/assessments", h.History)
}

// AnalyzeAddress handles GET /analyze/address/:address
func (h *Handler) AnalyzeAddress(c *gin.Context) {
	a, err := h.engine.AnalyzeAddress(c.Request.Context(), c.Param("address"))
	if errors.Is(err, ErrInvalidSubject) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Not a valid ledger address",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "analysis_failed",
			"message": "Failed to analyze address",
		})
		return
	}
	c.JSON(http.StatusOK, a)
}

// AnalyzeAsset handles GET /analyze/asset/:code/:issuer
func (h *Handler) AnalyzeAsset(c *gin.Context) {
	a, err := h.engine.AnalyzeAsset(c.Request.Context(), c.Param("code"), c.Param("issuer"))
	if errors.Is(err, ErrInvalidSubject) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_asset",
			"message": "Not a valid asset code and issuer pair",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "analysis_failed",
			"message": "Failed to analyze asset",
		})
		return
	}
	c.JSON(http.StatusOK, a)
}

// AnalyzeTransactionRequest carries a serialized transaction envelope,
// either base64-encoded or raw JSON.
type AnalyzeTransactionRequest struct {
	Envelope string `json:"envelope" binding:"required"`
}

// AnalyzeTransaction handles POST /analyze/transaction
func (h *Handler) AnalyzeTransaction(c *gin.Context) {
	var req AnalyzeTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "envelope is required",
		})
		return
	}

	env, err := txparser.ParseEnvelope([]byte(req.Envelope), h.network)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "malformed_transaction",
			"message": err.Error(),
		})
		return
	}

	a, err := h.engine.AnalyzeTransaction(c.Request.Context(), env)
	if errors.Is(err, ErrInvalidSubject) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_transaction",
			"message": err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "analysis_failed",
			"message": "Failed to analyze transaction",
		})
		return
	}
	c.JSON(http.StatusOK, a)
}

// History handles GET /assessments?subject=...
func (h *Handler) History(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "audit_disabled",
			"message": "Assessment history is not enabled",
		})
		return
	}
	subject := c.Query("subject")
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_subject",
			"message": "subject query parameter is required",
		})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	assessments, err := h.store.ListBySubject(c.Request.Context(), subject, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_failed",
			"message": "Failed to load assessment history",
		})
		return
	}
	if assessments == nil {
		assessments = []*RiskAssessment{}
	}
	c.JSON(http.StatusOK, gin.H{"subject": subject, "assessments": assessments})
}
