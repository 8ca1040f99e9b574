package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/delimatsuo/dressup-core/internal/middleware"
	"github.com/delimatsuo/dressup-core/internal/modules/activity"
	"github.com/delimatsuo/dressup-core/internal/modules/blob"
	"github.com/delimatsuo/dressup-core/internal/modules/maintenance"
	"github.com/delimatsuo/dressup-core/internal/modules/restore"
	"github.com/delimatsuo/dressup-core/internal/modules/session"
	"github.com/delimatsuo/dressup-core/internal/modules/tryon"
	"github.com/delimatsuo/dressup-core/internal/pkg/response"
)

func (a *App) registerRoutes() {
	r := a.router
	logger := a.logger

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	limiter := a.buildLimiter()
	rateLimitMW := middleware.RateLimit(limiter)
	adminMW := middleware.AdminAuth()

	// Services
	blobSvc := blob.NewService(a.store, a.objects, a.cfg.Blob,
		blob.WithLogger(logger.Named("BlobService")))
	sessionSvc := session.NewService(a.store, a.cfg.Session,
		session.WithLogger(logger.Named("SessionService")),
		session.WithBlobCleaner(blobSvc))
	restoreSvc := restore.NewService(a.store, sessionSvc, a.cfg.Session.RestorationWindow,
		restore.WithLogger(logger.Named("RestoreService")))
	activitySvc := activity.NewService(a.store, sessionSvc,
		a.cfg.Session.ActivityDebounce, 2*a.cfg.Session.TTL,
		activity.WithLogger(logger.Named("ActivityService")))
	genClient := tryon.NewClient(a.cfg.Generation,
		tryon.WithClientLogger(logger.Named("GenerationClient")))
	tryonSvc := tryon.NewService(genClient, blobSvc, sessionSvc,
		tryon.WithLogger(logger.Named("TryOnService")))

	a.registerJobs(sessionSvc, blobSvc, limiter)

	api := r.Group("/api/v1")
	api.Use(middleware.Idempotence(a.store))

	api.GET("/ping", func(c *gin.Context) {
		response.OK(c, "pong")
	})
	api.GET("/uptime", func(c *gin.Context) {
		uptime := time.Since(a.cfgStartTime())
		c.JSON(http.StatusOK, gin.H{
			"timestamp": uptime.Milliseconds(),
			"humanize":  humanizeDuration(uptime),
		})
	})

	restore.NewHandler(restoreSvc).RegisterRoutes(api, rateLimitMW)
	session.NewHandler(sessionSvc).RegisterRoutes(api, rateLimitMW)
	activity.NewHandler(activitySvc).RegisterRoutes(api, rateLimitMW)
	blob.NewHandler(blobSvc, sessionSvc).RegisterRoutes(api, rateLimitMW)
	tryon.NewHandler(tryonSvc).RegisterRoutes(api, rateLimitMW)
	maintenance.NewHandler(a.sched, sessionSvc, blobSvc).RegisterRoutes(api, adminMW)
}
