package session

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/delimatsuo/dressup-core/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the session CRUD surface. Restore and activity
// routes are owned by their own modules.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, rateLimitMW gin.HandlerFunc) {
	g := rg.Group("/session")
	g.POST("", rateLimitMW, h.create)
	g.GET("/:id", rateLimitMW, h.get)
	g.PUT("/:id", rateLimitMW, h.extend)
	g.DELETE("/:id", rateLimitMW, h.delete)
}

func (h *Handler) create(c *gin.Context) {
	sess, err := h.svc.Create(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toResponse(sess))
}

func (h *Handler) get(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	sess, err = h.svc.MaybeAutoExtend(ctx, sess)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toResponse(sess))
}

func (h *Handler) extend(c *gin.Context) {
	var dto ExtendDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sess, err := h.svc.Extend(c.Request.Context(), c.Param("id"), time.Duration(dto.AdditionalSeconds)*time.Second)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toResponse(sess))
}

func (h *Handler) delete(c *gin.Context) {
	deleted, err := h.svc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"deleted": deleted})
}
