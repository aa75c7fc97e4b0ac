package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limitermw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kasira-dev/fees-engine/internal/app"
	"github.com/kasira-dev/fees-engine/internal/audit"
	"github.com/kasira-dev/fees-engine/internal/auth"
	"github.com/kasira-dev/fees-engine/internal/cache"
	"github.com/kasira-dev/fees-engine/internal/checkout"
	"github.com/kasira-dev/fees-engine/internal/common"
	"github.com/kasira-dev/fees-engine/internal/config"
	"github.com/kasira-dev/fees-engine/internal/events"
	"github.com/kasira-dev/fees-engine/internal/fees"
	"github.com/kasira-dev/fees-engine/internal/health"
	"github.com/kasira-dev/fees-engine/internal/lock"
	"github.com/kasira-dev/fees-engine/internal/notify"
	"github.com/kasira-dev/fees-engine/internal/obs"
	"github.com/kasira-dev/fees-engine/internal/queue"
	"github.com/kasira-dev/fees-engine/internal/ratelimit"
	"github.com/kasira-dev/fees-engine/internal/security"
	"github.com/kasira-dev/fees-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "fees")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "fees-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "fees-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	if envBool("DB_MIGRATE_ON_START", true) {
		if err := app.MigrateUp(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	st := store.New(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

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
		Locker:     &lock.Locker{R: redisClient},
		Cache:      cache.NewCache(redisClient, cfg.LedgerCacheTTL),
		Bus:        bus,
		Log:        logger,
		LockTTL:    cfg.RecalcLockTTL,
		SessionTTL: cfg.SessionTTL,
	}

	validate, err := app.NewValidator()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise validator")
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Validate: validate}

	dispatcher := &checkout.Dispatcher{Store: st, Queue: enqueuer}
	adminCheckout := &checkout.AdminHandler{Dispatcher: dispatcher}

	authService, err := auth.NewService(auth.Config{
		Secret:     cfg.JWTSecret,
		APIKeyHash: cfg.AdminAPIKeyHash,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authHandler := &auth.Handler{Service: authService}
	authMiddleware := auth.Middleware{Service: authService}

	auditStore := audit.NewStore(pool)
	auditRecorder := audit.HTTPRecorder{
		Service: &audit.Service{
			Store:        auditStore,
			Enabled:      envBool("AUDIT_ENABLED", true),
			SamplingRate: envFloat("AUDIT_SAMPLING_RATE", 1.0),
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("record audit entry") },
	}
	auditHandler := audit.Handler{Store: auditStore}

	queueAdmin := &queue.AdminHandler{
		Store:  queue.NewStore(pool),
		Queue:  enqueuer,
		Logger: logger,
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	triggerLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient},
		Config: ratelimit.BySessionParam("sessionId",
			envDurationMillis("RATE_LIMIT_TRIGGER_WINDOW_MS", 60000),
			envInt("RATE_LIMIT_TRIGGER_MAX", 60)),
		OnError: func(err error) { logger.Error().Err(err).Msg("trigger rate limit") },
	}
	tokenLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient},
		Config: ratelimit.ByClientIP(
			envDurationMillis("RATE_LIMIT_TOKEN_WINDOW_MS", 60000),
			envInt("RATE_LIMIT_TOKEN_MAX", 10)),
		OnError: func(err error) { logger.Error().Err(err).Msg("token rate limit") },
	}
	adminLimiter, err := app.NewAdminLimiter(redisClient, envOrDefault("ADMIN_RATE_LIMIT", "120-M"))
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise admin rate limiter")
	}
	adminLimit := limitermw.NewMiddleware(adminLimiter)

	secureHeaders := security.Headers{
		Enable:                envBool("SECURE_HEADERS_ENABLED", true),
		EnableHSTS:            envBool("SECURE_HSTS_ENABLED", false),
		HSTSMaxAge:            envInt("SECURE_HSTS_MAX_AGE", 0),
		HSTSIncludeSubdomains: envBool("SECURE_HSTS_INCLUDE_SUBDOMAINS", false),
	}
	bodyLimit := security.BodyLimit{Max: int64(envInt("SECURE_MAX_BODY_BYTES", 1<<20))}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders.Middleware)
	r.Use(bodyLimit.Middleware)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", true) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/sessions", func(s chi.Router) {
			s.Get("/{sessionId}", checkoutHandler.Get)
			s.Get("/{sessionId}/fees", checkoutHandler.Fees)

			s.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Post("/", checkoutHandler.Create)
				g.Delete("/{sessionId}", checkoutHandler.Delete)

				g.Group(func(t chi.Router) {
					t.Use(triggerLimit.Middleware)
					t.Post("/{sessionId}/items", checkoutHandler.AddItem)
					t.Patch("/{sessionId}/items/{itemId}", checkoutHandler.UpdateItem)
					t.Delete("/{sessionId}/items/{itemId}", checkoutHandler.RemoveItem)
					t.Put("/{sessionId}/payment-method", checkoutHandler.SetPaymentMethod)
					t.Put("/{sessionId}/shipping", checkoutHandler.SetShipping)
					t.With(
						authMiddleware.RequireAdmin,
						auditRecorder.Middleware(audit.HTTPConfig{
							Action:         "fees.force_recalculate",
							Resource:       "session",
							SessionIDParam: "sessionId",
						}),
					).Post("/{sessionId}/recalculate", checkoutHandler.Recalculate)
				})
			})
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.With(tokenLimit.Middleware).Post("/token", authHandler.ExchangeToken)

			admin.Group(func(g chi.Router) {
				g.Use(authMiddleware.RequireAdmin)
				g.Use(adminLimit.Handler)
				g.With(auditRecorder.Middleware(audit.HTTPConfig{
					Action:   "fees.bulk_recalculate",
					Resource: "sessions",
				})).Post("/recalculate", adminCheckout.BulkRecalculate)
				g.Get("/audit", auditHandler.List)
				g.Route("/queue", func(q chi.Router) {
					q.Get("/dlq", queueAdmin.ListDLQ)
					q.With(auditRecorder.Middleware(audit.HTTPConfig{
						Action:   "queue.replay_dlq",
						Resource: "queue",
					})).Post("/dlq/replay", queueAdmin.ReplayDLQ)
					q.Get("/stats", queueAdmin.Stats)
				})
			})
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	case <-rootCtx.Done():
	}

	health.SetReady(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), envDurationMillis("SERVER_SHUTDOWN_TIMEOUT_MS", 10000))
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown http server")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
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

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
