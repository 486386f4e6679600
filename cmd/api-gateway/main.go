package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/wishary/wishary-auth-api/internal/cookies"
	"github.com/wishary/wishary-auth-api/internal/handler"
	"github.com/wishary/wishary-auth-api/internal/middleware"
	"github.com/wishary/wishary-auth-api/internal/repository"
	"github.com/wishary/wishary-auth-api/internal/service"
	"github.com/wishary/wishary-auth-api/pkg/cache"
	"github.com/wishary/wishary-auth-api/pkg/config"
	"github.com/wishary/wishary-auth-api/pkg/database"
	"github.com/wishary/wishary-auth-api/pkg/logger"
	corsmiddleware "github.com/wishary/wishary-auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/wishary/wishary-auth-api/pkg/middleware/requestid"
	"github.com/wishary/wishary-auth-api/pkg/token"
)

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

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	tokenSvc, err := token.NewService(token.Options{
		EncryptionKey: []byte(cfg.Token.EncryptionKey),
		SigningKey:    []byte(cfg.Token.SigningKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
	})
	if err != nil {
		logr.Sugar().Fatalw("failed to init token service", "error", err)
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	sessionRepo := repository.NewSessionRepository(redisClient, logr)

	authSvc := service.NewAuthService(userRepo, tokenRepo, sessionRepo, tokenSvc, validate, logr, metricsSvc, service.AuthConfig{
		AccessTTL:    cfg.Token.AccessTTL,
		RefreshTTL:   cfg.Token.RefreshTTL,
		RefreshGrace: cfg.Auth.RefreshGrace,
	})
	transport := cookies.NewTransport(cfg.Cookie, cfg.IsLocal())

	authHandler := handler.NewAuthHandler(authSvc, transport)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	authed := api.Group("/auth", middleware.AuthState(authSvc, transport))
	authed.POST("/refresh", authHandler.Refresh)
	authed.POST("/sign-out", authHandler.SignOut)
	authed.POST("/sign-out-all", middleware.RequireAuthenticated(), authHandler.SignOutEverywhere)
	authed.GET("/me", middleware.RequireAuthenticated(), authHandler.Me)

	if cfg.Cleanup.Enabled {
		cleanup := service.NewCleanupService(tokenRepo, logr, cfg.Cleanup.Interval)
		cleanup.Start(context.Background())
		defer cleanup.Stop()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
