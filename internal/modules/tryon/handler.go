package tryon

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
	rg.POST("/session/:id/tryon", rateLimitMW, h.generate)
}

type generateDTO struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) generate(c *gin.Context) {
	var dto generateDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&dto); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	out, err := h.svc.Generate(c.Request.Context(), c.Param("id"), dto.Prompt)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, out)
}
