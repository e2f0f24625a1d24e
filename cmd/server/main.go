package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/WebHare/platform-sub003/internal/handlers"
	infracache "github.com/WebHare/platform-sub003/internal/infrastructure/cache"
	"github.com/WebHare/platform-sub003/internal/infrastructure/config"
	"github.com/WebHare/platform-sub003/internal/infrastructure/database"
	"github.com/WebHare/platform-sub003/internal/infrastructure/logging"
	"github.com/WebHare/platform-sub003/internal/infrastructure/metrics"
	"github.com/WebHare/platform-sub003/internal/repositories"
	"github.com/WebHare/platform-sub003/internal/repositories/dynamo"
	"github.com/WebHare/platform-sub003/internal/repositories/history"
	"github.com/WebHare/platform-sub003/internal/repositories/memory"
	"github.com/WebHare/platform-sub003/internal/repositories/postgres"
	"github.com/WebHare/platform-sub003/internal/services/accessor"
	"github.com/WebHare/platform-sub003/internal/services/schemacache"
	"github.com/WebHare/platform-sub003/internal/services/search"
	"github.com/WebHare/platform-sub003/internal/services/updater"
	"github.com/WebHare/platform-sub003/pkg/cache"
	"github.com/WebHare/platform-sub003/pkg/cache/memorycache"
)

const (
	defaultEnv      = "dev"
	shutdownTimeout = 30 * time.Second
	healthInterval  = 15 * time.Second
	metricsInterval = 10 * time.Second
)

func main() {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	// Initialize configuration
	if err := config.InitConfig(env); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize config: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	logger.Info("Connected to database",
		zap.String("user", cfg.Database.User),
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database))

	root, err := config.FindProjectRoot()
	if err != nil {
		return err
	}
	if err := pg.RunMigrations(filepath.Join(root, database.MigrationsPathSuffix)); err != nil {
		return err
	}

	// Storage
	store := postgres.NewPostgresStore(pg.DB, cfg.Store.MaxParams)
	if cfg.Store.History {
		gdb, err := history.OpenPostgres(pg.DB)
		if err != nil {
			return err
		}
		store.WithHistory(history.TxFactory(gdb))
	}
	external, err := openExternal(ctx, cfg.External)
	if err != nil {
		return err
	}

	// Reference cache
	var refCache cache.Cache
	var memCache *memorycache.Cache
	if cfg.Cache.Enabled {
		memCache = memorycache.New(&memorycache.Config{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
			EnableMetrics: true,
		})
		defer memCache.Close()
		refCache = memCache
		logger.Info("Reference cache enabled",
			zap.Int64("maxBytes", cfg.Cache.MaxMemoryBytes),
			zap.Int("ttlMinutes", cfg.Cache.TTLMinutes))
	}

	// Metrics
	collector := metrics.NewCollector()
	if memCache != nil {
		collector.SetCache(memCache)
	}
	exporter := metrics.NewPrometheusExporter(collector)

	// Services
	registry := accessor.NewRegistry()
	upd := updater.New(updater.Config{
		Registry: registry,
		Blobs:    postgres.NewPostgresBlobStore(pg.DB),
		External: external,
		Cache:    refCache,
		Metrics:  &metrics.UpdateRecorder{Collector: collector, Exporter: exporter},
		Logger:   logger.Named("updater"),
		History:  cfg.Store.History,
	})
	finder := search.NewFinder(registry, upd.Reader, logger.Named("search"))

	provider := schemacache.NewYAMLProvider(cfg.Schema.File, logger.Named("schema"))
	schemas := schemacache.New(provider, schemacache.WithLogger(logger.Named("schema")))
	if cfg.Schema.Tag != "" {
		if _, err := schemas.Get(ctx, cfg.Schema.Tag); err != nil {
			return err
		}
	}

	// Keep caches in step with other instances
	changes := infracache.NewChangeListener(schemas, upd, logger.Named("listener"), cfg.Schema.Tag)
	pqListener, err := pg.NewListener(changes.Report, postgres.ChangeChannel)
	if err != nil {
		return err
	}
	changes.Start(pqListener)
	defer changes.Stop()

	handler := handlers.NewEntityHandler(schemas, store, upd, finder, postgres.NewPostgresNotifier(pg.DB), logger.Named("http"))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(metrics.HTTPMiddleware(collector, exporter))
	handler.Routes(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health service
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(metrics.UnaryServerInterceptor(collector, exporter)))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC health server listening", zap.String("addr", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	})
	if cfg.Schema.Watch {
		g.Go(func() error {
			return provider.Watch(gctx, schemas)
		})
	}
	g.Go(func() error {
		watchHealth(gctx, pg, healthServer, exporter, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Initiating graceful shutdown...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Channel to notify when graceful stop completes
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		var result error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			result = errors.Join(result, fmt.Errorf("HTTP shutdown: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			result = errors.Join(result, fmt.Errorf("metrics shutdown: %w", err))
		}

		// Wait for graceful stop or timeout
		select {
		case <-stopped:
			logger.Info("gRPC server stopped gracefully")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout exceeded, forcing stop")
			grpcServer.Stop()
		}
		return result
	})

	return g.Wait()
}

// openExternal selects the store for documents, instances and file references
func openExternal(ctx context.Context, cfg config.ExternalConfig) (repositories.ExternalStore, error) {
	if cfg.Backend == "dynamodb" {
		return dynamo.Open(ctx, dynamo.Options{
			Table:    cfg.Table,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	}
	return memory.NewExternalStore(), nil
}

// watchHealth publishes the database state on the health service and refreshes
// the cache gauges until ctx is cancelled
func watchHealth(ctx context.Context, pg *database.Postgres, hs *health.Server, exporter *metrics.PrometheusExporter, logger *zap.Logger) {
	healthTicker := time.NewTicker(healthInterval)
	defer healthTicker.Stop()
	metricsTicker := time.NewTicker(metricsInterval)
	defer metricsTicker.Stop()

	check := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if err := pg.HealthCheck(); err != nil {
			logger.Warn("database health check failed", zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}
	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-healthTicker.C:
			check()
		case <-metricsTicker.C:
			exporter.Update()
		}
	}
}
