package restore

import (
	"github.com/gin-gonic/gin"

	"github.com/delimatsuo/dressup-core/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, rateLimitMW gin.HandlerFunc) {
	g := rg.Group("/session/restore")
	g.GET("", rateLimitMW, h.issue)
	g.POST("", rateLimitMW, h.redeem)
}

type redeemDTO struct {
	Token string `json:"restorationToken" binding:"required"`
}

func (h *Handler) issue(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		response.BadRequest(c, "sessionId query parameter is required")
		return
	}
	token, err := h.svc.Issue(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"restorationToken": token})
}

func (h *Handler) redeem(c *gin.Context) {
	var dto redeemDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	result, err := h.svc.Redeem(c.Request.Context(), dto.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
