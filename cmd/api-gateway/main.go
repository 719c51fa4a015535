package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/pecha-tools/transcription-api/api/swagger"
	"github.com/pecha-tools/transcription-api/internal/handler"
	"github.com/pecha-tools/transcription-api/internal/middleware"
	"github.com/pecha-tools/transcription-api/internal/models"
	"github.com/pecha-tools/transcription-api/internal/repository"
	"github.com/pecha-tools/transcription-api/internal/service"
	"github.com/pecha-tools/transcription-api/pkg/cache"
	"github.com/pecha-tools/transcription-api/pkg/config"
	"github.com/pecha-tools/transcription-api/pkg/database"
	"github.com/pecha-tools/transcription-api/pkg/jobs"
	"github.com/pecha-tools/transcription-api/pkg/logger"
	corsmiddleware "github.com/pecha-tools/transcription-api/pkg/middleware/cors"
	reqidmiddleware "github.com/pecha-tools/transcription-api/pkg/middleware/requestid"
	"github.com/pecha-tools/transcription-api/pkg/storage"
)

// @title Transcription API
// @version 1.0.0
// @description Work assignment and review engine for transcription projects
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	// Repositories.
	textRepo := repository.NewTextRepository(db)
	userRepo := repository.NewUserRepository(db)
	systemRepo := repository.NewSystemRepository(db)
	presenceRepo := repository.NewPresenceRepository(redisClient, cfg.Presence.ChannelKey, cfg.Presence.TTL, logr)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "transcription-api",
	})
	allocationSvc := service.NewAllocationService(textRepo, userRepo, systemRepo, presenceRepo, metricsSvc, logr, service.AllocationConfig{
		ClaimAttempts: cfg.Engine.ClaimAttempts,
	})
	reviewSvc := service.NewReviewService(textRepo, userRepo, userRepo, metricsSvc, logr, service.ReviewConfig{
		RejectThreshold: cfg.Engine.RejectThreshold,
	})
	quotaSvc := service.NewQuotaService(textRepo, cacheRepo, logr, cfg.Engine.QuotaCacheTTL)
	userSvc := service.NewUserService(userRepo, logr)
	systemSvc := service.NewSystemService(systemRepo, userRepo, logr)

	var exportSvc *service.ExportService
	if cfg.Reports.Enabled {
		reportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exportSvc = service.NewExportService(userRepo, quotaSvc, cacheRepo, reportStore, signer, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
		}, logr)
		exportSvc.Start(context.Background())
		defer exportSvc.Stop()
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	textHandler := handler.NewTextHandler(allocationSvc, reviewSvc)
	userHandler := handler.NewUserHandler(userSvc)
	systemHandler := handler.NewSystemHandler(systemSvc, userSvc)
	presenceHandler := handler.NewPresenceHandler(presenceRepo)
	quotaHandler := handler.NewQuotaHandler(quotaSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.GET("/texts/next", textHandler.Next)
		protected.POST("/texts/:id/transition", textHandler.Transition)
		protected.GET("/texts/review-queue",
			middleware.RequireRoles(models.RoleAdmin, models.RoleOwner, models.RoleReviewer),
			textHandler.ReviewQueue)
		protected.GET("/batches/unassigned", textHandler.UnassignedBatch)

		protected.POST("/presence/heartbeat", presenceHandler.Heartbeat)
		protected.DELETE("/presence", presenceHandler.Leave)
		protected.GET("/presence", presenceHandler.Snapshot)

		protected.GET("/users",
			middleware.RequireRoles(models.RoleAdmin, models.RoleOwner),
			userHandler.List)
		protected.GET("/users/:id",
			middleware.RBAC(string(models.RoleAdmin), string(models.RoleOwner), "SELF"),
			userHandler.Get)
		protected.DELETE("/users/:id/batches/:batch",
			middleware.RequireRoles(models.RoleAdmin, models.RoleOwner),
			middleware.Audit(userRepo, models.AuditActionBatchRemove, "user"),
			userHandler.RemoveBatch)
		protected.PUT("/users/:id/eligibility",
			middleware.RequireRoles(models.RoleAdmin, models.RoleOwner),
			userHandler.SetEligibility)
		protected.GET("/users/:id/quota", quotaHandler.Get)

		protected.GET("/system/status", systemHandler.Status)
		protected.PUT("/system/status",
			middleware.RequireRoles(models.RoleAdmin, models.RoleOwner),
			systemHandler.Update)

		if exportSvc != nil {
			protected.POST("/quota/exports", quotaHandler.RequestExport)
			protected.GET("/quota/exports/:id", quotaHandler.GetExport)
		}
	}

	if exportSvc != nil {
		// Signed token carries its own authorization.
		api.GET("/quota/exports/download", quotaHandler.Download)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
