// Prosim - professional conversation simulation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/prosim/internal/api"
	"github.com/ashureev/prosim/internal/collaborator"
	"github.com/ashureev/prosim/internal/config"
	"github.com/ashureev/prosim/internal/engine"
	"github.com/ashureev/prosim/internal/identity"
	"github.com/ashureev/prosim/internal/middleware"
	"github.com/ashureev/prosim/internal/realtime"
	"github.com/ashureev/prosim/internal/scenario"
	"github.com/ashureev/prosim/internal/store"
	"github.com/ashureev/prosim/internal/telemetry"
	"github.com/ashureev/prosim/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "collaborator", cfg.Collaborator.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: "prosim",
	})
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	catalog, err := scenario.LoadFile(cfg.ScenarioFile)
	if err != nil {
		slog.Error("Failed to load scenario catalog", "error", err, "file", cfg.ScenarioFile)
		os.Exit(1)
	}
	slog.Info("Scenario catalog loaded", "scenarios", catalog.Len())

	// Initialize dependencies.
	archive, err := store.NewSQLite(cfg.Archive.DBPath)
	if err != nil {
		slog.Error("Failed to initialize archive database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := archive.Close(); closeErr != nil {
			slog.Error("Failed to close archive", "error", closeErr)
		}
	}()
	if err := archive.Ping(ctx); err != nil {
		slog.Error("Archive health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Archive database connected", "path", cfg.Archive.DBPath)

	healthDeps := map[string]api.Pinger{"archive": archive}

	var (
		durable store.Durable
		locker  store.Locker
	)
	if cfg.Session.RedisURL != "" {
		client, err := store.DialRedis(ctx, cfg.Session.RedisURL)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		durable = store.NewRedisDurable(client)
		healthDeps["redis"] = api.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		if cfg.Session.LockEnabled {
			locker = store.NewRedisLocker(client, cfg.Session.LockTTL)
		}
		slog.Info("Durable session tier: redis")
	} else {
		durable = store.NewMemoryDurable(nil)
		if cfg.Session.LockEnabled {
			locker = store.NewMemoryLocker()
		}
		slog.Info("Durable session tier: in-memory (REDIS_URL not set)")
	}

	sessions := store.NewTwoTier(durable,
		store.WithActiveTTL(cfg.Session.ActiveTTL),
		store.WithCompletedTTL(cfg.Session.CompletedTTL),
		store.WithLogger(logger),
	)
	defer func() {
		if closeErr := sessions.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	backend, err := collaborator.New(cfg.CollaboratorBackend(), logger)
	if err != nil {
		slog.Error("Failed to initialize collaborator backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Error("Failed to close collaborator backend", "error", closeErr)
		}
	}()

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	simMetrics := telemetry.NewMetrics(reg)

	opts := []engine.Option{
		engine.WithArchive(archive),
		engine.WithMetrics(simMetrics),
		engine.WithLogger(logger),
		engine.WithWindow(cfg.Session.TranscriptTail),
	}
	if locker != nil {
		opts = append(opts, engine.WithLocker(locker))
	}
	eng := engine.New(catalog, sessions, backend, opts...)

	// Initialize services.
	sm := realtime.NewSessionManager()
	telemetry.RegisterLiveGauges(reg, sessions.HotLen, sm.Count)

	// Initialize handlers.
	baseHandler := api.NewHandler(eng, sm, logger)
	simHandler := api.NewSimulationHandler(baseHandler)
	healthHandler := api.NewHealthHandler(healthDeps, 5*time.Second)

	wsOrigins := cfg.Origins()
	if cfg.IsDevelopment() {
		wsOrigins = []string{"*"}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.Origins()))

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	healthHandler.RegisterHealth(r)

	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	wsHandler := realtime.NewWebSocketHandler(eng, sm, wsOrigins, logger).WithLimiter(limiter)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		r.Use(middleware.RateLimit(limiter, func(r *http.Request) string {
			return identity.UserIDFromContext(r.Context())
		}))
		simHandler.RegisterRoutes(r)
		r.Get("/ws/simulations/{id}", wsHandler.ServeHTTP)
	})

	// Everything else is the embedded practice client.
	client := web.Handler()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			api.Error(w, http.StatusNotFound, "not found")
			return
		}
		client.ServeHTTP(w, r)
	})

	// Create server.
	// WebSocket sessions stay open for the whole simulation, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	store.StartSweeper(ctx, sessions, cfg.Session.SweepInterval, func(sessionID string) {
		sm.CloseSession(sessionID, "session expired")
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
