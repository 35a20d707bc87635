package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"talkingrock/internal/contact"
	"talkingrock/internal/contextreg"
	"talkingrock/internal/service"
)

// Handler serves the owner-only admin surface: login, analytics, inbox,
// context reload
type Handler struct {
	admin     *service.AdminService
	analytics *service.AnalyticsService
	contacts  *contact.Store
	registry  *contextreg.Registry
}

// NewHandler creates the admin handler
func NewHandler(admin *service.AdminService, analytics *service.AnalyticsService, contacts *contact.Store, registry *contextreg.Registry) *Handler {
	return &Handler{
		admin:     admin,
		analytics: analytics,
		contacts:  contacts,
		registry:  registry,
	}
}

// ContextReload handles POST /admin/context/reload. The registry swaps
// atomically, so in-flight requests keep the snapshot they started with.
func (h *Handler) ContextReload(c *gin.Context) {
	if err := h.registry.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

// LoginRequest is the POST /admin/login body
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login authenticates the site owner
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	token, expiresIn, err := h.admin.Login(req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAdminDisabled):
			c.JSON(http.StatusNotFound, gin.H{"error": "admin access is not configured"})
		case errors.Is(err, service.ErrInvalidPassword):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": expiresIn,
		"token_type": "Bearer",
	})
}

// AnalyticsSummary handles GET /admin/analytics/summary?days=7
func (h *Handler) AnalyticsSummary(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))

	stats, err := h.analytics.Summary(c.Request.Context(), days)
	if err != nil {
		if errors.Is(err, service.ErrAnalyticsUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics store not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute summary"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// AnalyticsDaily handles GET /admin/analytics/daily?days=30
func (h *Handler) AnalyticsDaily(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	rows, err := h.analytics.Daily(c.Request.Context(), days)
	if err != nil {
		if errors.Is(err, service.ErrAnalyticsUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics store not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute daily counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"days": rows})
}

// InboxList handles GET /admin/inbox?limit=50
func (h *Handler) InboxList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	messages, err := h.contacts.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

// InboxGet handles GET /admin/inbox/:id
func (h *Handler) InboxGet(c *gin.Context) {
	msg, err := h.contacts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read message"})
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	c.JSON(http.StatusOK, msg)
}
