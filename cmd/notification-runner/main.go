// cmd/notification-runner/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"transit-notifications/internal/channels"
	awsclient "transit-notifications/internal/common/aws"
	"transit-notifications/internal/common/config"
	"transit-notifications/internal/common/database"
	"transit-notifications/internal/common/errors"
	"transit-notifications/internal/common/fcm"
	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/dispatch"
	"transit-notifications/internal/health"
	"transit-notifications/internal/models"
	"transit-notifications/internal/orchestrator"
	"transit-notifications/internal/registry"
	"transit-notifications/internal/scheduler"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notification runner...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Push Gateway ---
	// A missing or broken gateway is not fatal: the engine skips push delivery
	// and the health monitor reports gateway_connectivity as critical.
	var gatewayClient dispatch.Messaging
	if messagingClient, err := fcm.NewMessagingClient(ctx, cfg.Firebase.CredentialsPath, cfg.Firebase.ProjectID); err != nil {
		zapLog.Warn("Push gateway unavailable, continuing without push delivery", zap.Error(err))
	} else {
		gatewayClient = messagingClient
		zapLog.Info("Push gateway initialized", zap.String("projectId", cfg.Firebase.ProjectID))
	}

	// --- Init AWS Provider Clients ---
	var sesService channels.SESService
	if cfg.Integrations.AWS.SES.Enabled {
		sesClient, err := awsclient.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Warn("SES unavailable, email channel disabled", zap.Error(err))
		} else {
			sesService = sesClient
			zapLog.Info("SES client initialized", zap.String("region", cfg.Integrations.AWS.Region))
		}
	}

	var snsService channels.SNSService
	if cfg.Integrations.AWS.SNS.Enabled {
		snsClient, err := awsclient.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Warn("SNS unavailable, sms channel disabled", zap.Error(err))
		} else {
			snsService = snsClient
			zapLog.Info("SNS client initialized", zap.String("region", cfg.Integrations.AWS.Region))
		}
	}

	// --- Wire the delivery pipeline ---
	tokenCache := registry.NewTokenCache(rdb.Client, time.Duration(cfg.Notifications.TokenCacheTTL)*time.Second)
	tokenRegistry := registry.New(pg.DB, tokenCache, log, cfg.Notifications.TokenMinLength)

	engine := dispatch.New(
		gatewayClient,
		dispatch.NewRateLimiter(rdb.Client, cfg.Notifications.RateLimitPerMinute),
		dispatch.NewInvalidTokenCache(rdb.Client, time.Duration(cfg.Notifications.InvalidTokenTTL)*time.Second),
		dispatch.RetryPolicy{
			MaxAttempts:   cfg.Notifications.MaxRetries,
			BaseDelay:     config.GetDuration(cfg.Notifications.RetryBaseDelay),
			BackoffFactor: 2,
			Retryable:     errors.IsRetryable,
		},
		cfg.Notifications.BatchSize,
		config.GetDuration(cfg.Notifications.RequestTimeout),
		log,
	)

	pushChannel := channels.NewPushChannel(engine, tokenRegistry, log)
	emailChannel := channels.NewEmailChannel(sesService, cfg.Integrations.AWS.SES.FromEmail,
		cfg.Integrations.AWS.SES.Enabled, log)
	smsChannel := channels.NewSMSChannel(snsService, cfg.Integrations.AWS.SNS.DefaultSMSSenderID,
		cfg.Integrations.AWS.SNS.Enabled, log)

	orch := orchestrator.New(pg.DB, pushChannel, emailChannel, smsChannel,
		cfg.Notifications.BulkBatchSize, cfg.Notifications.DefaultChannels, log)

	sched := scheduler.New(pg.DB, orch, tokenRegistry, rdb.Client, 100, log)

	monitor := health.New(pg.DB, rdb.Client, engine, cfg.Health.MetricWeights,
		time.Duration(cfg.Health.CacheTTL)*time.Second,
		time.Duration(cfg.Health.StatsCacheTTL)*time.Second,
		log)

	// --- Background loops ---
	go sched.Run(ctx, time.Duration(cfg.Notifications.SchedulerInterval)*time.Second)
	zapLog.Info("Scheduler started",
		zap.Int("interval_s", cfg.Notifications.SchedulerInterval))

	go func() {
		sweepInterval := time.Duration(cfg.Notifications.SweepInterval) * time.Second
		maxIdle := time.Duration(cfg.Notifications.TokenSweepDays) * 24 * time.Hour

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sched.RunTokenSweep(ctx, maxIdle)
			}
		}
	}()
	zapLog.Info("Token sweep started",
		zap.Int("interval_s", cfg.Notifications.SweepInterval),
		zap.Int("maxIdleDays", cfg.Notifications.TokenSweepDays))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		var report *models.SystemHealth
		if r.URL.Query().Get("refresh") == "true" {
			report = monitor.Refresh(r.Context())
		} else {
			report = monitor.Check(r.Context())
		}
		w.Header().Set("Content-Type", "application/json")
		if report.Status == models.HealthStatusCritical {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"deliveries": monitor.GetStats(r.Context(), 24),
			"dispatch":   engine.Stats(r.Context()),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: mux,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.Int("port", cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}

	zapLog.Info("Notification runner stopped gracefully")
}
