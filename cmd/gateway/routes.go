package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"partnerhub/config"
	"partnerhub/internal/database"
	"partnerhub/internal/events"
	"partnerhub/internal/gateway/clients"
	"partnerhub/internal/gateway/handlers"
	"partnerhub/internal/gateway/middleware"
	"partnerhub/internal/observability"
	affiliatehandler "partnerhub/internal/services/affiliates/handler"
	attributionhandler "partnerhub/internal/services/attribution/handler"
	commissionhandler "partnerhub/internal/services/commissions/handler"
	settingshandler "partnerhub/internal/services/settings/handler"
	statshandler "partnerhub/internal/services/stats/handler"
)

func main() {
	cfg := config.LoadConfig()
	logger := config.NewLogger(cfg.LogLevel)

	if cfg.Auth.JWTSecret == "" || cfg.Auth.CookieSecret == "" {
		log.Fatalf("JWT_SECRET and COOKIE_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if rdb, err := config.NewRedisClient(ctx, cfg.Redis); err != nil {
		logger.Warn("Redis unavailable, running without cache", "error", err)
	} else {
		redisClient = rdb
		defer redisClient.Close()
	}

	db, err := database.NewConnection(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	publisher, err := events.NewPublisher(cfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("Failed to create event publisher: %v", err)
	}
	defer publisher.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.MustNewMetrics(registry)

	settings := settingshandler.NewSettingsHandler(db, redisClient, logger)
	stats := statshandler.NewStatsHandler(db, redisClient, settings, cfg.Attribution.Location, logger)
	settings.AddChangeListener(stats)
	commissions := commissionhandler.NewCommissionHandler(db, settings, publisher, metrics, logger)
	commissions.SetStatsInvalidator(stats)
	attribution := attributionhandler.NewAttributionHandler(db, redisClient, publisher, metrics, logger)
	affiliates := affiliatehandler.NewAffiliateHandler(db, logger)

	grpcClients, err := clients.NewGRPCClients(cfg.GRPC.Target)
	if err != nil {
		log.Fatalf("Failed to initialize gRPC clients: %v", err)
	}
	defer grpcClients.Close()

	publicLimit, err := middleware.RateLimit(cfg.HTTP.RateLimit)
	if err != nil {
		log.Fatalf("Error while configuring rate limiter: %v", err)
	}

	r := gin.New()

	r.Use(middleware.CORS(cfg.HTTP.CORSOrigins))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.RequestMetrics(registry))
	r.Use(gin.Recovery())

	secureCookie := strings.HasPrefix(cfg.HTTP.PublicBaseURL, "https://")
	handlers.Router{
		Attribution: handlers.NewAttributionHTTPHandler(attribution, []byte(cfg.Auth.CookieSecret), secureCookie, logger),
		Affiliates:  handlers.NewAffiliateHTTPHandler(affiliates, cfg.HTTP.PublicBaseURL),
		Commissions: handlers.NewCommissionsHTTPHandler(commissions, grpcClients.Commissions),
		Stats:       handlers.NewStatsHTTPHandler(stats),
		Settings:    handlers.NewSettingsHTTPHandler(settings),
	}.Register(r, []byte(cfg.Auth.JWTSecret), publicLimit)

	r.GET("/health", healthCheckHandler(db, redisClient))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("Starting server", "port", cfg.HTTP.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// healthCheckHandler reports degraded when Redis is missing or unreachable and unhealthy
// when the database is.
func healthCheckHandler(db *gorm.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := "healthy"
		httpStatus := http.StatusOK
		unavailableServices := []string{}

		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			unavailableServices = append(unavailableServices, "database")
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
		if redisClient == nil || redisClient.Ping(ctx).Err() != nil {
			unavailableServices = append(unavailableServices, "redis")
			if status == "healthy" {
				status = "degraded"
			}
		}

		c.JSON(httpStatus, gin.H{
			"status":               status,
			"message":              "Server is running",
			"unavailable_services": unavailableServices,
			"timestamp":            time.Now(),
		})
	}
}
