package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/delimatsuo/dressup-core/internal/config"
	"github.com/delimatsuo/dressup-core/internal/middleware"
	pkgcron "github.com/delimatsuo/dressup-core/internal/pkg/cron"
	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
	"github.com/delimatsuo/dressup-core/internal/pkg/objectstore"
	"github.com/delimatsuo/dressup-core/internal/pkg/ratelimit"
)

// App holds all application dependencies.
type App struct {
	cfg     *config.AppConfig
	router  *gin.Engine
	store   kv.Store
	objects objectstore.Store
	logger  *zap.Logger
	cancel  context.CancelFunc
	sched   *pkgcron.Scheduler
}

// New initializes the application: config → Redis → object store → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := applyRuntimeSettings(cfg, logger); err != nil {
		return nil, err
	}

	store, err := kv.ConnectRedis(cfg.Redis.URLValue())
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	var objects objectstore.Store
	if cfg.HasS3() {
		objects, err = objectstore.NewS3Store(objectstore.S3Options{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			CustomDomain:    cfg.S3.CustomDomain,
			PathStyleAccess: cfg.S3.PathStyleAccess,
		})
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
	} else {
		logger.Warn("s3 is not configured, using in-memory object store")
		objects = objectstore.NewMemoryStore("")
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(buildCORSConfig(cfg)))

	ctx, cancel := context.WithCancel(context.Background())
	sched := pkgcron.New(logger.Named("CronService"))

	app := &App{
		cfg:     cfg,
		router:  router,
		store:   store,
		objects: objects,
		logger:  logger,
		cancel:  cancel,
		sched:   sched,
	}
	app.registerRoutes()
	go sched.Start(ctx)

	return app, nil
}

func buildCORSConfig(cfg *config.AppConfig) cors.Config {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		patterns := cfg.AllowedOrigins
		corsConfig.AllowOriginFunc = func(origin string) bool {
			host := extractOriginHost(origin)
			for _, pattern := range patterns {
				if matchOriginPattern(pattern, host) {
					return true
				}
			}
			return false
		}
	} else {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	}
	return corsConfig
}

func (a *App) buildLimiter() ratelimit.Limiter {
	rlCfg := ratelimit.Config{
		MaxRequests: a.cfg.RateLimit.MaxRequests,
		Window:      a.cfg.RateLimit.Window,
	}
	if a.cfg.RateLimit.Strategy == "memory" {
		return ratelimit.NewMemory(rlCfg)
	}
	return ratelimit.NewKV(a.store, rlCfg,
		ratelimit.WithKVLogger(a.logger.Named("RateLimit")),
		ratelimit.WithFailClosed(a.cfg.RateLimit.FailClosed),
	)
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown cleans up background goroutines.
func (a *App) Shutdown() { a.cancel() }

func (a *App) cfgStartTime() time.Time {
	return processStart
}

var processStart = time.Now()
