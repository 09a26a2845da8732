package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/orema/pos-backend/internal/auth"
	"github.com/orema/pos-backend/internal/config"
	"github.com/orema/pos-backend/internal/events"
	"github.com/orema/pos-backend/internal/health"
	"github.com/orema/pos-backend/internal/lockout"
	"github.com/orema/pos-backend/internal/logger"
	"github.com/orema/pos-backend/internal/metrics"
	"github.com/orema/pos-backend/internal/middleware"
	"github.com/orema/pos-backend/internal/ratelimit"
	"github.com/orema/pos-backend/internal/repository"
	"github.com/orema/pos-backend/internal/sanitizer"
	"github.com/orema/pos-backend/internal/sse"
)

// Version is set at build time
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.New(logger.DefaultConfig())
	slog.SetDefault(appLogger)

	// A missing signing secret is the one unrecoverable startup error.
	codec, err := auth.NewTokenCodec(auth.TokenCodecConfig{
		Secret: cfg.Session.Secret,
		Issuer: cfg.Session.Issuer,
	})
	if err != nil {
		log.Fatalf("Failed to initialise session codec: %v", err)
	}

	dbPool, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	sqlDB := stdlib.OpenDBFromPool(dbPool)
	defer sqlDB.Close()
	db := sqlx.NewDb(sqlDB, "pgx")

	dbCollector := metrics.NewDBStatsCollector(dbPool, sqlDB, appLogger)
	dbCollector.Start(15 * time.Second)
	defer dbCollector.Stop()

	redisClient, err := setupRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	lockoutStore, rateStore, closeStores := setupStores(cfg, redisClient)
	defer closeStores()

	// Security events
	eventStore := events.NewEventStore(cfg.Events.BufferSize)
	eventBus := events.NewEventBus(eventStore)
	eventBus.Subscribe(metrics.RecordEvent)
	eventBus.Subscribe(events.LogSubscriber(appLogger))

	streamConfig := sse.Config{
		HeartbeatInterval:       cfg.Events.StreamHeartbeat,
		ConnectionTimeout:       cfg.Events.StreamTimeout,
		MaxConnectionsPerTenant: cfg.Events.StreamMaxPerTenant,
	}
	streams := sse.NewConnectionManager(streamConfig)
	eventBus.Subscribe(streams.Deliver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go pruneEvents(ctx, eventStore, cfg.Events.Retention, appLogger)

	// Services
	tracker := lockout.NewTracker(lockoutStore,
		lockoutPolicy(cfg.Lockout.Password),
		lockoutPolicy(cfg.Lockout.PIN),
	)

	sessionService := auth.NewSessionService(auth.SessionServiceDeps{
		Users:     repository.NewUserRepository(dbPool),
		Tenants:   repository.NewEtablissementRepository(db),
		Codec:     codec,
		Hasher:    auth.NewHasher(auth.DefaultHasherConfig()),
		Lockout:   tracker,
		Sanitizer: sanitizer.NewNameSanitizer(),
		Events:    eventBus,
		Logger:    appLogger,
	}, auth.SessionServiceConfig{
		SessionTTL:    cfg.Session.TTL,
		PinSessionTTL: cfg.Session.PinTTL,
	})

	cookies := auth.NewCookieManager(auth.CookieConfig{
		Secure:        cfg.Cookie.Secure,
		Domain:        cfg.Cookie.Domain,
		ClearPrefixes: cfg.Cookie.ClearPrefixes,
	})

	streamHandler := sse.NewHandler(streamConfig, streams, eventBus, appLogger)

	authHandler := auth.NewAuthHandler(auth.AuthHandlerConfig{
		Service:    sessionService,
		Cookies:    cookies,
		Events:     eventBus,
		RecoverURL: cfg.Session.RecoverURL,
		Logger:     appLogger,
	})

	healthHandler := health.NewHandler(health.Config{
		Database: func(ctx context.Context) error {
			return metrics.PingDatabase(ctx, dbPool)
		},
		RedisClient: redisClient,
		Version:     Version,
	})

	// Middleware
	loggingMiddleware := middleware.NewLoggingMiddleware(appLogger, "/health", "/health/ready", "/health/live", "/metrics")
	authMiddleware := middleware.NewAuthMiddleware(sessionService, cookies, appLogger)
	limiter := middleware.NewRateLimitMiddleware(ratelimit.New(rateStore), eventBus, appLogger)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(loggingMiddleware.Handler)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	adminOnly := func(next http.Handler) http.Handler {
		return middleware.RequireRoles(auth.RoleAdmin, auth.RoleSuperAdmin)(
			middleware.RequirePasswordSession(next))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Limit(ratelimit.API, middleware.ClientIP))

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(60 * time.Second))

			auth.RegisterRoutes(r, authHandler, auth.RouteMiddlewares{
				LoginLimit:   limiter.Limit(ratelimit.Login, middleware.ClientIP),
				PinLimit:     limiter.Limit(ratelimit.PIN, middleware.ClientIP),
				Authenticate: authMiddleware.Authenticate,
				AdminOnly:    adminOnly,
			})
		})

		// Long-lived, so outside the request timeout.
		sse.RegisterRoutes(r, streamHandler, authMiddleware.Authenticate, adminOnly)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("starting server",
			slog.String("addr", addr),
			slog.String("env", cfg.Env),
			slog.Bool("shared_stores", redisClient != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()

	appLogger.Info("shutting down server")
	healthHandler.SetReady(false)
	streams.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server forced to shutdown", slog.Any("error", err))
		os.Exit(1)
	}

	appLogger.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database",
		slog.String("db", cfg.Database.DBName),
		slog.String("host", cfg.Database.Host),
	)
	return pool, nil
}

// setupRedis connects to Redis when REDIS_URL is set. A nil client means
// lockout and rate-limit state stay in process memory.
func setupRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// setupStores picks shared Redis stores when a client is available and
// in-memory stores otherwise. The returned func stops any sweepers.
func setupStores(cfg *config.Config, client *redis.Client) (lockout.Store, ratelimit.Store, func()) {
	if client != nil {
		return lockout.NewRedisStore(client, lockout.RedisStoreConfig{}),
			ratelimit.NewRedisStore(client, ratelimit.RedisStoreConfig{}),
			func() {}
	}

	slog.Warn("REDIS_URL not set, lockout and rate-limit state is per-instance")
	lockoutStore := lockout.NewMemoryStore(lockout.MemoryStoreConfig{SweepInterval: cfg.Lockout.SweepInterval})
	rateStore := ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{SweepInterval: cfg.RateLimit.SweepInterval})
	return lockoutStore, rateStore, func() {
		_ = lockoutStore.Close()
		_ = rateStore.Close()
	}
}

func lockoutPolicy(c config.LockoutPolicyConfig) lockout.Policy {
	return lockout.Policy{
		MaxAttempts:     c.MaxAttempts,
		Window:          c.Window,
		LockoutDuration: c.Duration,
	}
}

// pruneEvents drops security events older than retention until ctx ends.
func pruneEvents(ctx context.Context, store *events.InMemoryEventStore, retention time.Duration, log *slog.Logger) {
	interval := retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Cleanup(retention); err != nil {
				log.Error("failed to prune security events", slog.Any("error", err))
			}
		}
	}
}
