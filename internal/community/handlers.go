package community

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides the community-report HTTP endpoints.
type Handler struct {
	svc         *Service
	adminSecret string
}

// NewHandler creates a community handler.
func NewHandler(svc *Service, adminSecret string) *Handler {
	return &Handler{svc: svc, adminSecret: adminSecret}
}

// RegisterRoutes sets up community routes. Submission and voting are public;
// moderation and verification sit behind the admin secret.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/reports", h.Submit)
	r.GET("/reports", h.List)
	r.POST("/reports/:id/votes", h.Vote)
	r.POST("/appeals", h.Appeal)
	r.GET("/reporters/:id", h.Reporter)

	admin := r.Group("/admin", h.requireAdmin)
	admin.POST("/reports/:id/moderate", h.Moderate)
	admin.POST("/appeals/:id/decide", h.DecideAppeal)
	admin.PUT("/verifications/assets", h.VerifyAsset)
	admin.PUT("/verifications/contracts", h.VerifyContract)
}

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

// SubmitRequest reports a subject as risky.
type SubmitRequest struct {
	Subject     string `json:"subject" binding:"required"`
	Reporter    string `json:"reporter" binding:"required"`
	ClaimType   string `json:"claimType" binding:"required"`
	Description string `json:"description"`
}

// Submit handles POST /reports
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "subject, reporter, and claimType are required",
		})
		return
	}

	res, err := h.svc.SubmitReport(c.Request.Context(), req.Subject, req.Reporter, req.ClaimType, req.Description)
	switch {
	case errors.Is(err, ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limited",
			"message": "Report limit reached; try again later",
		})
	case errors.Is(err, ErrSpamFlagged):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "spam_flagged",
			"message": "Reporter is flagged for spam",
		})
	case errors.Is(err, ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_report",
			"message": "Subject was already reported by this reporter recently",
		})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_report",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusCreated, res)
	}
}

// List handles GET /reports?subject=...
func (h *Handler) List(c *gin.Context) {
	subject := c.Query("subject")
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_subject",
			"message": "subject query parameter is required",
		})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	reports, err := h.svc.Reports(c.Request.Context(), subject, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list reports",
		})
		return
	}
	counts, err := h.svc.CountReports(c.Request.Context(), subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to count reports",
		})
		return
	}
	if reports == nil {
		reports = []*Report{}
	}
	c.JSON(http.StatusOK, gin.H{
		"subject":  subject,
		"reports":  reports,
		"verified": counts.Verified,
		"pending":  counts.Pending,
	})
}

// VoteRequest casts a vote on a pending report.
type VoteRequest struct {
	Voter     string `json:"voter" binding:"required"`
	Direction string `json:"direction" binding:"required"`
}

// Vote handles POST /reports/:id/votes
func (h *Handler) Vote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "voter and direction (up or down) are required",
		})
		return
	}

	report, err := h.svc.CastVote(c.Request.Context(), c.Param("id"), req.Voter, req.Direction)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "report_not_found",
			"message": "No such report",
		})
		return
	}
	if errors.Is(err, ErrAlreadyVoted) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_voted",
			"message": "Voter has already voted on this report",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "vote_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// AppealRequest contests a settled report.
type AppealRequest struct {
	ReportID  string `json:"reportId" binding:"required"`
	Appellant string `json:"appellant" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// Appeal handles POST /appeals
func (h *Handler) Appeal(c *gin.Context) {
	var req AppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reportId, appellant, and reason are required",
		})
		return
	}

	appeal, err := h.svc.SubmitAppeal(c.Request.Context(), req.ReportID, req.Appellant, req.Reason)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "report_not_found",
			"message": "No such report",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "appeal_failed",
			"message": "Failed to submit appeal",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"appeal": appeal})
}

// Reporter handles GET /reporters/:id
func (h *Handler) Reporter(c *gin.Context) {
	stats, err := h.svc.ReporterReputation(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load reporter stats",
		})
		return
	}
	// Submission timestamps are internal bookkeeping.
	stats.RecentSubmissions = nil
	c.JSON(http.StatusOK, gin.H{"reporter": stats})
}

// ModerateRequest settles a report with a verdict.
type ModerateRequest struct {
	Verdict   string `json:"verdict" binding:"required"`
	Moderator string `json:"moderator" binding:"required"`
}

// Moderate handles POST /admin/reports/:id/moderate
func (h *Handler) Moderate(c *gin.Context) {
	var req ModerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "verdict and moderator are required",
		})
		return
	}

	report, err := h.svc.Moderate(c.Request.Context(), c.Param("id"), req.Verdict, req.Moderator)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "report_not_found",
			"message": "No such report",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "moderate_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// DecideAppealRequest settles a pending appeal.
type DecideAppealRequest struct {
	Decision  string `json:"decision" binding:"required"`
	Moderator string `json:"moderator" binding:"required"`
}

// DecideAppeal handles POST /admin/appeals/:id/decide
func (h *Handler) DecideAppeal(c *gin.Context) {
	var req DecideAppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "decision (approved or rejected) and moderator are required",
		})
		return
	}

	appeal, err := h.svc.DecideAppeal(c.Request.Context(), c.Param("id"), req.Decision, req.Moderator)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "appeal_not_found",
			"message": "No such appeal",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "decide_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"appeal": appeal})
}

// VerifyAssetRequest records an operator decision on an asset.
type VerifyAssetRequest struct {
	Code          string `json:"code" binding:"required"`
	Issuer        string `json:"issuer" binding:"required"`
	Status        string `json:"status" binding:"required"`
	DeclaredLevel string `json:"declaredLevel"`
}

// VerifyAsset handles PUT /admin/verifications/assets
func (h *Handler) VerifyAsset(c *gin.Context) {
	var req VerifyAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "code, issuer, and status are required",
		})
		return
	}

	v, err := h.svc.VerifyAsset(c.Request.Context(), req.Code, req.Issuer,
		req.Status, req.DeclaredLevel, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "verify_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": v})
}

// VerifyContractRequest records an operator decision on a contract.
type VerifyContractRequest struct {
	ContractID string `json:"contractId" binding:"required"`
	Verified   *bool  `json:"verified" binding:"required"`
}

// VerifyContract handles PUT /admin/verifications/contracts
func (h *Handler) VerifyContract(c *gin.Context) {
	var req VerifyContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "contractId and verified are required",
		})
		return
	}

	if err := h.svc.VerifyContract(c.Request.Context(), req.ContractID, *req.Verified); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "verify_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contractId": req.ContractID, "verified": *req.Verified})
}
