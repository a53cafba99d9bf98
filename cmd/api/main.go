package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/openlearn/openlearn-api/api/swagger"
	"github.com/openlearn/openlearn-api/internal/handler"
	"github.com/openlearn/openlearn-api/internal/middleware"
	"github.com/openlearn/openlearn-api/internal/models"
	"github.com/openlearn/openlearn-api/internal/repository"
	"github.com/openlearn/openlearn-api/internal/service"
	"github.com/openlearn/openlearn-api/pkg/cache"
	"github.com/openlearn/openlearn-api/pkg/config"
	"github.com/openlearn/openlearn-api/pkg/database"
	"github.com/openlearn/openlearn-api/pkg/logger"
	corsmiddleware "github.com/openlearn/openlearn-api/pkg/middleware/cors"
	reqidmiddleware "github.com/openlearn/openlearn-api/pkg/middleware/requestid"
)

// @title OpenLearn API
// @version 0.1.0
// @description Online course platform with class session scheduling and enrollment
// @BasePath /
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Schedules.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Schedules.CacheTTL, logr, true)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	scheduleSvc := service.NewScheduleService(scheduleRepo, directoryRepo, userRepo, cacheSvc, metricsSvc, validate, logr, cfg.Schedules.DefaultMaxStudents)

	authHandler := handler.NewAuthHandler(authSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	schedules := api.Group("/schedules", middleware.JWT(authSvc))
	schedules.GET("", scheduleHandler.List)
	schedules.GET("/my/calendar", middleware.RequireRoles(models.RoleStudent), scheduleHandler.Calendar)
	schedules.GET("/:id", scheduleHandler.Get)
	schedules.POST("",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
		middleware.Audit(userRepo, models.AuditActionScheduleCreate, "schedules"),
		scheduleHandler.Create)
	schedules.PUT("/:id",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
		middleware.Audit(userRepo, models.AuditActionScheduleUpdate, "schedules"),
		scheduleHandler.Update)
	schedules.DELETE("/:id",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
		middleware.Audit(userRepo, models.AuditActionScheduleDelete, "schedules"),
		scheduleHandler.Delete)
	schedules.POST("/:id/students",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
		middleware.Audit(userRepo, models.AuditActionScheduleEnroll, "schedules"),
		scheduleHandler.AddStudent)
	schedules.POST("/:id/join",
		middleware.RequireRoles(models.RoleStudent),
		middleware.Audit(userRepo, models.AuditActionScheduleEnroll, "schedules"),
		scheduleHandler.Join)
	schedules.GET("/:id/roster",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
		scheduleHandler.ExportRoster)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
