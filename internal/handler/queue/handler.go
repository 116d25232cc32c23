package queue

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classpilot/school-api/internal/handler"
	"github.com/classpilot/school-api/internal/model"
	queueService "github.com/classpilot/school-api/internal/service/queue"
)

type Handler struct {
	service *queueService.Service
}

func NewHandler(service *queueService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	entries := r.Group("/queue")
	{
		entries.POST("", h.Enqueue)
		entries.POST("/cancel", h.CancelPending)
	}
	tenants := r.Group("/tenants")
	{
		tenants.GET("/:id/stats", h.TenantStats)
	}
}

type enqueueRequest struct {
	TenantID         string     `json:"tenant_id" binding:"required,uuid"`
	Kind             string     `json:"kind" binding:"required,oneof=lesson_summary personal_report broadcast"`
	RecipientKind    string     `json:"recipient_kind" binding:"required,oneof=group direct"`
	RecipientAddress string     `json:"recipient_address" binding:"required"`
	Body             string     `json:"body" binding:"required"`
	AttachmentURL    *string    `json:"attachment_url"`
	ScheduledAt      *time.Time `json:"scheduled_at"`
}

func (h *Handler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid tenant ID"))
		return
	}

	scheduledAt := time.Now()
	if req.ScheduledAt != nil {
		scheduledAt = *req.ScheduledAt
	}

	entry, err := h.service.Enqueue(c.Request.Context(), queueService.EnqueueRequest{
		TenantID:         tenantID,
		Kind:             model.EntryKind(req.Kind),
		RecipientKind:    model.RecipientKind(req.RecipientKind),
		RecipientAddress: req.RecipientAddress,
		Body:             req.Body,
		AttachmentURL:    req.AttachmentURL,
		ScheduledAt:      scheduledAt,
	})
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(entry))
}

type cancelPendingRequest struct {
	CampaignID string `json:"campaign_id" binding:"required,uuid"`
}

// CancelPending drops the still-pending entries of a campaign. Prefer the
// campaign cancel endpoint, which also flips the campaign status; this exists
// for cleanup after manual intervention.
func (h *Handler) CancelPending(c *gin.Context) {
	var req cancelPendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign ID"))
		return
	}

	cancelled, err := h.service.CancelPending(c.Request.Context(), campaignID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"cancelled": cancelled}))
}

func (h *Handler) TenantStats(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid tenant ID"))
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), tenantID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}
