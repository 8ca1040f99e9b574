package activity

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
	rg.POST("/session/:id/activity", rateLimitMW, h.record)
}

type recordDTO struct {
	Action   string            `json:"action" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

func (h *Handler) record(c *gin.Context) {
	var dto recordDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	recorded, err := h.svc.Record(c.Request.Context(), c.Param("id"), dto.Action, dto.Metadata)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"recorded": recorded})
}
