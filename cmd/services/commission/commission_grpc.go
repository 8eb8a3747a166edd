package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"partnerhub/config"
	"partnerhub/internal/database"
	"partnerhub/internal/events"
	"partnerhub/internal/observability"
	commissionhandler "partnerhub/internal/services/commissions/handler"
	commissionrpc "partnerhub/internal/services/commissions/rpc"
	settingshandler "partnerhub/internal/services/settings/handler"
	statshandler "partnerhub/internal/services/stats/handler"
)

func main() {
	serverCfg := config.LoadConfig()
	logger := config.NewLogger(serverCfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if rdb, err := config.NewRedisClient(ctx, serverCfg.Redis); err != nil {
		logger.Warn("Redis unavailable, running without cache", "error", err)
	} else {
		redisClient = rdb
		defer redisClient.Close()
	}

	db, err := database.NewConnection(serverCfg.DB.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to db: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	publisher, err := events.NewPublisher(serverCfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("Failed to create event publisher: %v", err)
	}
	defer publisher.Close()

	metrics := observability.MustNewMetrics(nil)
	settings := settingshandler.NewSettingsHandler(db, redisClient, logger)
	stats := statshandler.NewStatsHandler(db, redisClient, settings, serverCfg.Attribution.Location, logger)

	commissionHandler := commissionhandler.NewCommissionHandler(db, settings, publisher, metrics, logger)
	commissionHandler.SetReleaseBatchSize(serverCfg.Commission.ReleaseBatchSize)
	commissionHandler.SetStatsInvalidator(stats)

	lis, err := net.Listen("tcp", serverCfg.GRPC.Addr)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	s := grpc.NewServer(grpc.UnaryInterceptor(commissionrpc.UnaryLogging(logger)))
	commissionrpc.Register(s, commissionrpc.NewServer(commissionHandler))

	reflection.Register(s)

	go func() {
		<-ctx.Done()
		logger.Info("Commission service shutting down")
		s.GracefulStop()
	}()

	logger.Info("Commission service listening", "addr", serverCfg.GRPC.Addr)
	if err := s.Serve(lis); err != nil {
		log.Fatalf("Failed to serve: %v", err)
	}
}
