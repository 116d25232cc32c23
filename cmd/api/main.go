package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/classpilot/school-api/internal/config"
	"github.com/classpilot/school-api/internal/gateway"
	"github.com/classpilot/school-api/internal/handler"
	campaignHandler "github.com/classpilot/school-api/internal/handler/campaign"
	queueHandler "github.com/classpilot/school-api/internal/handler/queue"
	"github.com/classpilot/school-api/internal/middleware"
	"github.com/classpilot/school-api/internal/repository/postgres"
	"github.com/classpilot/school-api/internal/router"
	campaignService "github.com/classpilot/school-api/internal/service/campaign"
	queueService "github.com/classpilot/school-api/internal/service/queue"
	tenantService "github.com/classpilot/school-api/internal/service/tenant"
	"github.com/classpilot/school-api/pkg/logger"
	"github.com/classpilot/school-api/pkg/messaging"
	"github.com/classpilot/school-api/pkg/messaging/redis"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{Level: logger.ParseLevel(cfg.Logging.Level)})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redis.NewRedisBroker(redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, &log.Logger)
		if err != nil {
			appLogger.Fatal(err, "failed to connect to redis")
		}
		defer broker.Close()
	}

	queueRepo := postgres.NewQueueRepository(db)
	campaignRepo := postgres.NewCampaignRepository(db)
	tenantRepo := postgres.NewTenantRepository(db)

	gw := gateway.NewClient(cfg.Dispatch.GatewayTimeout())

	tenantSvc := tenantService.NewService(tenantRepo)
	queueSvc := queueService.NewService(queueRepo, tenantSvc)
	campaignSvc := campaignService.NewService(campaignRepo, queueSvc, tenantSvc, gw, broker, appLogger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.Secret)

	h := handler.NewHandler(db)
	queueH := queueHandler.NewHandler(queueSvc)
	campaignH := campaignHandler.NewHandler(campaignSvc)

	r := router.NewRouter(authMiddleware, queueH, campaignH, h, router.Config{
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		Timeout:        time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		MetricsPrefix:  "school_api",
	})
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(err, "failed to start server")
		}
	}()
	appLogger.Info("server started", "port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal(err, "server forced to shutdown")
	}
	appLogger.Info("server exited")
}
