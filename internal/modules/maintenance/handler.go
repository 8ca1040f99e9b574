// Package maintenance exposes the sweep jobs over HTTP so an external
// cron-style trigger can fire them in deployments without a resident
// scheduler.
package maintenance

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/delimatsuo/dressup-core/internal/modules/blob"
	"github.com/delimatsuo/dressup-core/internal/modules/session"
	pkgcron "github.com/delimatsuo/dressup-core/internal/pkg/cron"
	"github.com/delimatsuo/dressup-core/internal/pkg/response"
)

const defaultBatchLimit = 100

type Handler struct {
	sched    *pkgcron.Scheduler
	sessions *session.Service
	blobs    *blob.Service
}

func NewHandler(sched *pkgcron.Scheduler, sessions *session.Service, blobs *blob.Service) *Handler {
	return &Handler{sched: sched, sessions: sessions, blobs: blobs}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/maintenance", authMW)
	g.GET("/jobs", h.listJobs)
	g.GET("/jobs/:name", h.getJob)
	g.POST("/jobs/:name/run", h.runJob)
	g.POST("/sweep/sessions", h.sweepSessions)
	g.POST("/sweep/blobs", h.sweepBlobs)
}

func (h *Handler) listJobs(c *gin.Context) {
	response.OK(c, h.sched.List())
}

func (h *Handler) getJob(c *gin.Context) {
	result, err := h.sched.GetTask(c.Param("name"))
	if err != nil {
		response.NotFound(c, "job not found")
		return
	}
	response.OK(c, result)
}

func (h *Handler) runJob(c *gin.Context) {
	if err := h.sched.Run(c.Request.Context(), c.Param("name")); err != nil {
		response.NotFound(c, "job not found")
		return
	}
	response.OK(c, gin.H{"message": "job triggered"})
}

func (h *Handler) sweepSessions(c *gin.Context) {
	res, err := h.sessions.SweepExpired(c.Request.Context(), batchLimit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

func (h *Handler) sweepBlobs(c *gin.Context) {
	deleted, err := h.blobs.CleanupExpiredBlobs(c.Request.Context(), batchLimit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"deletedCount": deleted})
}

func batchLimit(c *gin.Context) int {
	if raw := c.Query("batchLimit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultBatchLimit
}
