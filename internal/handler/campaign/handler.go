package campaign

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classpilot/school-api/internal/handler"
	"github.com/classpilot/school-api/internal/model"
	campaignService "github.com/classpilot/school-api/internal/service/campaign"
)

type Handler struct {
	service *campaignService.Service
}

func NewHandler(service *campaignService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	campaigns := r.Group("/campaigns")
	{
		campaigns.POST("", h.Create)
		campaigns.GET("", h.List)
		campaigns.GET("/:id", h.Get)
		campaigns.POST("/:id/start", h.Start)
		campaigns.POST("/:id/cancel", h.Cancel)
	}
}

type variantRequest struct {
	Text          string  `json:"text" binding:"required"`
	AttachmentURL *string `json:"attachment_url"`
}

type createCampaignRequest struct {
	TenantID        string           `json:"tenant_id" binding:"required,uuid"`
	Name            string           `json:"name" binding:"required"`
	Variants        []variantRequest `json:"variants" binding:"required,min=1,dive"`
	TargetKind      string           `json:"target_kind" binding:"required,oneof=all_groups selected_groups"`
	TargetAddresses []string         `json:"target_addresses"`
	ScheduledFor    *time.Time       `json:"scheduled_for"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid tenant ID"))
		return
	}

	variants := make([]model.MessageVariant, 0, len(req.Variants))
	for _, v := range req.Variants {
		variants = append(variants, model.MessageVariant{
			Text:          v.Text,
			AttachmentURL: v.AttachmentURL,
		})
	}

	campaign, err := h.service.Create(c.Request.Context(), campaignService.CreateRequest{
		TenantID:        tenantID,
		Name:            req.Name,
		Variants:        variants,
		TargetKind:      model.TargetKind(req.TargetKind),
		TargetAddresses: req.TargetAddresses,
		ScheduledFor:    req.ScheduledFor,
	})
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(campaign))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign ID"))
		return
	}

	campaign, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaign))
}

func (h *Handler) List(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Query("tenant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("tenant_id query parameter is required"))
		return
	}

	campaigns, err := h.service.List(c.Request.Context(), tenantID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaigns))
}

func (h *Handler) Start(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign ID"))
		return
	}

	campaign, err := h.service.Start(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaign))
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign ID"))
		return
	}

	campaign, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaign))
}
