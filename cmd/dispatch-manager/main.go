// cmd/dispatch-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cleaner-dispatch/internal/common/aws"
	"cleaner-dispatch/internal/common/camunda"
	"cleaner-dispatch/internal/common/config"
	"cleaner-dispatch/internal/common/database"
	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/common/observability"
	"cleaner-dispatch/internal/ledger"
	"cleaner-dispatch/internal/matching"
	"cleaner-dispatch/internal/performance"
	"cleaner-dispatch/internal/settlement"

	rcm "cleaner-dispatch/internal/workers/contractor/recompute-metrics"
	cj "cleaner-dispatch/internal/workers/dispatch/claim-job"
	mo "cleaner-dispatch/internal/workers/dispatch/match-and-offer"
	ua "cleaner-dispatch/internal/workers/dispatch/update-assignment"
	rpb "cleaner-dispatch/internal/workers/settlement/run-payout-batch"
)

// retryWithBackoff retries operation with exponential backoff starting at initialDelay.
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialDelay
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.RetryNotify(operation, backoff.WithMaxRetries(b, uint64(maxRetries-1)), func(err error, next time.Duration) {
		attempt++
		log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("maxRetries", maxRetries),
			zap.Duration("nextRetryIn", next),
		)
	})
	if err != nil {
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync() //nolint:errcheck
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting dispatch manager...", zap.String("environment", cfg.App.Environment))

	ctx := context.Background()

	var obs *observability.Observability
	if cfg.Tracing.Enabled {
		obs, err = observability.New("dispatch-manager", cfg.Tracing.SampleRatio, prometheus.DefaultRegisterer)
		if err != nil {
			zapLog.Fatal("observability init failed", zap.Error(err))
		}
		defer obs.Shutdown(context.Background()) //nolint:errcheck
	}

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(cfg.Camunda)
		if err != nil && !camunda.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.AutoMigrate {
		if err := database.Migrate(pg.DB); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		zapLog.Info("Schema migrations applied")
	}

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Elasticsearch is best effort: reports are skipped when it is absent ---
	var reporter settlement.ReportSink
	if cfg.Database.Elasticsearch.GetURL() != "" {
		esClient, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err == nil {
			err = esClient.Ping(ctx)
		}
		if err == nil {
			err = esClient.EnsureIndex(ctx, cfg.Reporting.ElasticsearchIndex)
		}
		if err != nil {
			zapLog.Warn("elasticsearch unavailable, batch reports will not be indexed", zap.Error(err))
		} else {
			reporter = settlement.NewElasticsearchReporter(esClient.Client, cfg.Reporting.ElasticsearchIndex)
			zapLog.Info("Elasticsearch connected successfully")
		}
	}

	var notifier ledger.Notifier
	if cfg.Notifications.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		notifier = aws.NewOfferNotifier(snsClient, cfg.Notifications.SNS.TopicARN, log)
	}

	// --- Dispatch core ---
	var repo matching.Repository = matching.NewPostgresRepository(pg.DB)
	var cache *matching.CachedRepository
	if cfg.Dispatch.ContractorCacheTTL > 0 {
		cache = matching.NewCachedRepository(repo, redis.Cmdable(), time.Duration(cfg.Dispatch.ContractorCacheTTL)*time.Second, log)
		repo = cache
	}
	engine := matching.NewEngine(repo, cfg.Dispatch.NormalizationRadiusKm, log)
	ldg := ledger.New(pg.DB, time.Duration(cfg.Dispatch.OfferTTLMinutes)*time.Minute, notifier, log)
	recalc := performance.NewRecalculator(pg.DB, log)

	processor := settlement.NewProcessor(pg.DB,
		settlement.NewGatewayClient(cfg.Gateway, log),
		reporter,
		settlement.Config{
			PlatformFeePct:     cfg.Settlement.PlatformFeePct,
			InsuranceFeePct:    cfg.Settlement.InsuranceFeePct,
			MinimumPayoutCents: cfg.Settlement.MinimumPayoutCents,
			Currency:           cfg.Settlement.Currency,
			Workers:            cfg.Settlement.Workers,
		}, log)

	scheduler, err := settlement.NewScheduler(processor, ldg, settlement.NewPGLocker(pg.DB, log), settlement.SchedulerConfig{
		Schedule:            cfg.Settlement.Schedule,
		ExpirySweepSchedule: cfg.Settlement.ExpirySweepSchedule,
		PeriodDays:          cfg.Settlement.PeriodDays,
		LockID:              cfg.Settlement.LockID,
	}, log)
	if err != nil {
		zapLog.Fatal("scheduler init failed", zap.Error(err))
	}

	// --- Register workers ---
	var workers []worker.JobWorker
	start := func(taskType string, opts camunda.WorkerOptions, handler worker.JobHandler) {
		if w := zeebe.StartWorker(taskType, opts, handler, log); w != nil {
			workers = append(workers, w)
		}
	}

	moCfg := mo.LoadConfig(cfg)
	start(mo.TaskType, camunda.WorkerOptions{Enabled: moCfg.Enabled, MaxJobsActive: moCfg.MaxJobsActive, Timeout: moCfg.Timeout},
		mo.NewHandler(moCfg, engine, ldg, obs, log).Handle)

	cjCfg := cj.LoadConfig(cfg)
	start(cj.TaskType, camunda.WorkerOptions{Enabled: cjCfg.Enabled, MaxJobsActive: cjCfg.MaxJobsActive, Timeout: cjCfg.Timeout},
		cj.NewHandler(cjCfg, ldg, obs, log).Handle)

	uaCfg := ua.LoadConfig(cfg)
	start(ua.TaskType, camunda.WorkerOptions{Enabled: uaCfg.Enabled, MaxJobsActive: uaCfg.MaxJobsActive, Timeout: uaCfg.Timeout},
		ua.NewHandler(uaCfg, ldg, obs, log).Handle)

	rcmCfg := rcm.LoadConfig(cfg)
	var invalidator rcm.SnapshotInvalidator
	if cache != nil {
		invalidator = cache
	}
	start(rcm.TaskType, camunda.WorkerOptions{Enabled: rcmCfg.Enabled, MaxJobsActive: rcmCfg.MaxJobsActive, Timeout: rcmCfg.Timeout},
		rcm.NewHandler(rcmCfg, recalc, invalidator, obs, log).Handle)

	rpbCfg := rpb.LoadConfig(cfg)
	start(rpb.TaskType, camunda.WorkerOptions{Enabled: rpbCfg.Enabled, MaxJobsActive: rpbCfg.MaxJobsActive, Timeout: rpbCfg.Timeout},
		rpb.NewHandler(rpbCfg, scheduler, obs, log).Handle)

	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	scheduler.Start()

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "postgres unavailable")
			return
		}
		if err := redis.Ping(ctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
		if err := zeebe.HealthCheck(ctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "zeebe unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Close()
		w.AwaitClose()
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		zapLog.Warn("payout batch still running at shutdown deadline")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Dispatch manager stopped gracefully")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
