package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kasira-dev/fees-engine/internal/cache"
	"github.com/kasira-dev/fees-engine/internal/checkout"
	"github.com/kasira-dev/fees-engine/internal/config"
	"github.com/kasira-dev/fees-engine/internal/events"
	"github.com/kasira-dev/fees-engine/internal/fees"
	"github.com/kasira-dev/fees-engine/internal/lock"
	"github.com/kasira-dev/fees-engine/internal/notify"
	"github.com/kasira-dev/fees-engine/internal/obs"
	"github.com/kasira-dev/fees-engine/internal/queue"
	"github.com/kasira-dev/fees-engine/internal/resilience"
	"github.com/kasira-dev/fees-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, st := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	ruleSet, err := checkout.RulesFromConfig(cfg.Fees)
	if err != nil {
		logger.Fatal().Err(err).Msg("build fee rules")
	}
	pipeline, err := fees.NewPipeline(ruleSet)
	if err != nil {
		logger.Fatal().Err(err).Msg("build fee pipeline")
	}

	enqueuer := queue.Enqueuer{
		R:        redisClient,
		DedupTTL: envDurationMillis("QUEUE_DEDUP_TTL_MS", 60000),
	}
	bus := &events.Bus{
		Store: st,
		Scheduler: notify.Scheduler{
			Queue:       enqueuer,
			MaxAttempts: envInt("REFRESH_MAX_ATTEMPTS", 8),
			Enabled:     cfg.RefreshWebhookURL != "",
		},
		Notifiers: []events.Notifier{notify.LogNotifier{Logger: logger}},
	}

	checkoutSvc := &checkout.Service{
		Store:      st,
		Pipeline:   pipeline,
		Locker:     &lock.Locker{R: redisClient, RetryBackoff: envDurationMillis("LOCK_RETRY_BACKOFF_MS", 50)},
		Cache:      cache.NewCache(redisClient, cfg.LedgerCacheTTL),
		Bus:        bus,
		Log:        logger,
		LockTTL:    cfg.RecalcLockTTL,
		SessionTTL: cfg.SessionTTL,
	}
	recalcWorker := checkout.RecalcWorker{Svc: checkoutSvc, Log: logger}

	sender := &notify.Sender{
		URL:    cfg.RefreshWebhookURL,
		Secret: envOrDefault("REFRESH_WEBHOOK_SECRET", ""),
		HTTP: &resilience.HTTPClient{
			Client: notify.HttpClient(envInt("REFRESH_HTTP_TIMEOUT_MS", 5000), envBool("REFRESH_ALLOW_INSECURE_TLS", false)),
			Breaker: resilience.NewBreaker(
				envInt("CIRCUIT_REFRESH_MIN_REQUESTS", 10),
				envFloat("CIRCUIT_REFRESH_FAILURE_RATE", 0.5),
				envDurationMillis("CIRCUIT_REFRESH_OPEN_FOR_MS", 30000)),
			BaseBackoff: envDurationMillis("REFRESH_RETRY_BASE_MS", 200),
			MaxAttempts: envInt("REFRESH_RETRY_MAX_ATTEMPTS", 3),
			Jitter:      envFloat("REFRESH_RETRY_JITTER", 0.2),
			Timeout:     envDurationMillis("REFRESH_OUTBOUND_TIMEOUT_MS", 10000),
			Target:      "refresh-webhook",
		},
		Replay:    notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL: envDurationMillis("REFRESH_REPLAY_TTL_MS", 600000),
	}
	refreshWorker := notify.RefreshWorker{
		Sender:  sender,
		Locker:  lock.Locker{R: redisClient, RetryBackoff: envDurationMillis("LOCK_RETRY_BACKOFF_MS", 50)},
		LockTTL: envDurationMillis("LOCK_TTL_MS", 10000),
	}

	dlqStore := queue.NewStore(pool)

	recalcQueueWorker := queue.Worker{
		R:                 redisClient,
		Kind:              queue.KindFeesRecalc,
		Concurrency:       envInt("QUEUE_CONCURRENCY_RECALC", 4),
		VisibilityTimeout: envDurationMillis("QUEUE_VISIBILITY_TIMEOUT_MS", 30000),
		SoftDeadline:      envDurationMillis("QUEUE_SOFT_DEADLINE_MS", 25000),
		RetryBase:         envDurationMillis("QUEUE_BACKOFF_BASE_MS", 500),
		RetryJitter:       envFloat("QUEUE_BACKOFF_JITTER", 0.2),
		Store:             dlqStore,
		Logger:            &logger,
		Handler:           recalcWorker.Handle,
	}
	refreshQueueWorker := queue.Worker{
		R:                 redisClient,
		Kind:              queue.KindNotifyRefresh,
		Concurrency:       envInt("QUEUE_CONCURRENCY_REFRESH", 2),
		VisibilityTimeout: envDurationMillis("QUEUE_VISIBILITY_TIMEOUT_MS", 30000),
		SoftDeadline:      envDurationMillis("QUEUE_SOFT_DEADLINE_MS", 25000),
		RetryBase:         envDurationMillis("QUEUE_BACKOFF_BASE_MS", 500),
		RetryJitter:       envFloat("QUEUE_BACKOFF_JITTER", 0.2),
		Store:             dlqStore,
		Logger:            &logger,
		Handler: func(jobCtx context.Context, task queue.Task) error {
			return refreshWorker.Handle(jobCtx, task.Payload)
		},
	}

	go watchDLQ(ctx, dlqStore, envDurationMillis("QUEUE_DLQ_GAUGE_INTERVAL_MS", 30000), logger)

	var wg sync.WaitGroup
	run := func(name string, w queue.Worker) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("worker", name).Msg("worker stopped with error")
			}
		}()
	}
	run("fees-recalc", recalcQueueWorker)
	run("notify-refresh", refreshQueueWorker)

	logger.Info().Msg("worker starting")
	wg.Wait()
	logger.Info().Msg("worker shutdown complete")
}

// watchDLQ refreshes the DLQ size gauge so operators see dead letters pile up
// without querying the database.
func watchDLQ(ctx context.Context, dlq queue.Store, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sizes, err := dlq.QueueDlqSizeByKind(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("measure dlq size")
				continue
			}
			for kind, size := range sizes {
				queue.QueueDLQSize.WithLabelValues(kind).Set(float64(size))
			}
		}
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, *store.Store) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "fees-worker"
	if maxConns := envInt("DB_MAX_OPEN_CONNS", 0); maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool, store.New(pool)
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
