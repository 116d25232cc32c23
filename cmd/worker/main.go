package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/classpilot/school-api/internal/config"
	"github.com/classpilot/school-api/internal/gateway"
	"github.com/classpilot/school-api/internal/repository/postgres"
	"github.com/classpilot/school-api/internal/service/alert"
	"github.com/classpilot/school-api/internal/service/campaign"
	"github.com/classpilot/school-api/internal/service/dispatch"
	"github.com/classpilot/school-api/internal/service/queue"
	"github.com/classpilot/school-api/internal/service/scheduler"
	"github.com/classpilot/school-api/internal/service/tenant"
	"github.com/classpilot/school-api/pkg/logger"
	"github.com/classpilot/school-api/pkg/messaging"
	"github.com/classpilot/school-api/pkg/messaging/redis"
	"github.com/classpilot/school-api/pkg/metrics"
	"github.com/classpilot/school-api/pkg/worker"
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
	contentRepo := postgres.NewContentRepository(db)

	m := metrics.NewMetrics("school_delivery")
	gw := gateway.NewClient(cfg.Dispatch.GatewayTimeout())

	tenantSvc := tenant.NewService(tenantRepo)
	queueSvc := queue.NewService(queueRepo, tenantSvc)
	campaignSvc := campaign.NewService(campaignRepo, queueSvc, tenantSvc, gw, broker, appLogger)

	var alertSvc alert.Service = alert.Noop{}
	if cfg.Alerts.Enabled {
		alertSvc = alert.NewService(alert.Config{
			SMTPHost: cfg.Alerts.SMTPHost,
			SMTPPort: cfg.Alerts.SMTPPort,
			Username: cfg.Alerts.Username,
			Password: cfg.Alerts.Password,
			From:     cfg.Alerts.From,
			To:       cfg.Alerts.To,
		}, appLogger)
	}

	dispatcher := dispatch.NewWorker(
		queueRepo, campaignRepo, contentRepo, tenantSvc, gw, broker, alertSvc,
		dispatch.Config{
			GatewayTimeout:        cfg.Dispatch.GatewayTimeout(),
			MaxParallelTenants:    cfg.Dispatch.MaxParallelTenants,
			AlertFailureThreshold: cfg.Dispatch.AlertFailureThreshold,
		},
		appLogger, m,
	)

	sweeper := scheduler.NewSweeper(
		contentRepo, campaignRepo, queueSvc, campaignSvc,
		scheduler.Config{BatchSize: cfg.Scheduler.ContentBatchSize},
		appLogger, m,
	)

	setupHealthCheck(appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down")
		cancel()
	}()

	tasks := []*worker.Periodic{
		{
			Name:       "dispatch",
			Interval:   cfg.Dispatch.SweepInterval(),
			MaxBackoff: 5 * time.Minute,
			Task:       dispatcher.Sweep,
			Logger:     appLogger,
		},
		{
			Name:       "scheduler",
			Interval:   cfg.Scheduler.SweepInterval(),
			MaxBackoff: 10 * time.Minute,
			Task:       sweeper.Sweep,
			Logger:     appLogger,
		},
		{
			Name:       "retention",
			Interval:   cfg.Retention.CleanupInterval(),
			MaxBackoff: 24 * time.Hour,
			Task: func(ctx context.Context) error {
				return dispatcher.Cleanup(ctx, cfg.Retention.KeepSentFor())
			},
			Logger: appLogger,
		},
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.Run(ctx)
		}()
	}
	wg.Wait()
}

func setupHealthCheck(logger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			logger.Fatal(err, "health check server failed")
		}
	}()
}
