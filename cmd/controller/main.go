// Package main is the entry point for the execplane controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"execplane/internal/analytics"
	"execplane/internal/archive"
	"execplane/internal/certdir"
	"execplane/internal/clientupdate"
	"execplane/internal/config"
	"execplane/internal/controller"
	"execplane/internal/controller/handlers"
	"execplane/internal/logger"
	"execplane/internal/metrics"
	"execplane/internal/observability"
	"execplane/internal/orchestrator"
	"execplane/internal/output"
	"execplane/internal/query"
	"execplane/internal/retention"
	"execplane/internal/store"
	"execplane/internal/store/memory"
	"execplane/internal/store/postgres"
	"execplane/internal/sweeper"
	"execplane/internal/transport/mailbox"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: execplane.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logg := logger.New(cfg.LogLevel).With("service", "execplane-controller")
	slog.SetDefault(logg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg, *migrateFlag, logg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "execplane-controller", version, cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logg.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logg.Error("failed to shutdown metrics", "error", err)
		}
	}()
	if err := observability.RegisterInFlightGauge(otel.Meter("execplane-controller"), st); err != nil {
		logg.Warn("failed to register in-flight gauge", "error", err)
	}
	sink := metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

	// Transport
	registry := mailbox.New(mailbox.Config{
		SendTimeout:      cfg.SendTimeout,
		PresenceTTL:      cfg.PresenceTTL,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	}, mailbox.WithMetrics(sink))

	buf := output.NewBuffer(st, st, sink)

	// Optional integrations
	var (
		resolver orchestrator.ClientResolver
		certs    handlers.CertificateSearcher
		hooks    []orchestrator.TerminalHook
	)
	if cfg.CertDirURL != "" {
		dir, err := certdir.New(ctx, certdir.Config{
			BaseURL:      cfg.CertDirURL,
			Token:        cfg.CertDirToken,
			TokenURL:     cfg.CertDirTokenURL,
			ClientID:     cfg.CertDirClientID,
			ClientSecret: cfg.CertDirClientSecret,
		})
		if err != nil {
			log.Fatalf("Failed to configure certificate directory: %v", err)
		}
		resolver, certs = dir, dir
		logg.Info("certificate directory enabled", "url", cfg.CertDirURL)
	}
	if cfg.ArchiveEndpoint != "" {
		archiveCfg := archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		}
		objects, err := archive.NewMinIOClient(archiveCfg)
		if err != nil {
			log.Fatalf("Failed to configure archive: %v", err)
		}
		archiver := archive.New(objects, buf, cfg.ArchiveBucket, "")
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Fatalf("Failed to prepare archive bucket: %v", err)
		}
		hooks = append(hooks, archiver)
		logg.Info("output archive enabled", "endpoint", cfg.ArchiveEndpoint, "bucket", cfg.ArchiveBucket)
	}
	if cfg.RedisURL != "" {
		rdb, err := analytics.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to configure analytics: %v", err)
		}
		defer rdb.Close()
		hooks = append(hooks, analytics.NewRecorder(rdb, cfg.AnalyticsRetention))
		logg.Info("outcome analytics enabled")
	}

	coord := orchestrator.New(st, buf, registry, orchestrator.Config{
		Scripts:  st,
		Resolver: resolver,
		Hooks:    hooks,
		Metrics:  sink,
		Logger:   logg,
	})

	// Background jobs
	sw := sweeper.New(sweeper.Config{
		Interval:  cfg.SweepInterval,
		Deadline:  cfg.ExecutionTimeout,
		BatchSize: cfg.SweepBatchSize,
	}, st, coord, sink)
	go sw.Run(ctx)

	if cfg.Retention > 0 {
		job, err := retention.New(st, cfg.Retention, cfg.RetentionSchedule)
		if err != nil {
			log.Fatalf("Failed to configure retention: %v", err)
		}
		go job.Run(ctx)
		logg.Info("retention purge enabled", "retention", cfg.Retention, "schedule", cfg.RetentionSchedule)
	}

	// Start Server
	h := handlers.New(handlers.Deps{
		Coordinator:  coord,
		Query:        query.NewService(st, cfg.DefaultPageSize, cfg.MaxPageSize),
		Output:       buf,
		Updates:      clientupdate.NewDispatcher(st, registry, sink, logg),
		Scripts:      st,
		Mailbox:      registry,
		Certificates: certs,
		Health:       st,
		Logger:       logg,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.ServerConfig{
		Addr:           addr,
		TokenHashes:    cfg.APITokenHashes,
		InternalSecret: cfg.InternalSecret,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
	}, h)

	go func() {
		logg.Info("execplane controller starting", "addr", addr, "version", version, "store", cfg.Store)
		if err := srv.Run(ctx); err != nil {
			logg.Error("server stopped", "error", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("shutting down controller")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server forced to shutdown", "error", err)
	}
	cancel()
	coord.Wait()
	logg.Info("server exited properly")
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool, logg *slog.Logger) (store.Store, error) {
	if cfg.Store == "memory" {
		logg.Warn("using in-memory store, state is lost on restart")
		return memory.New(), nil
	}

	// Connect to Postgres (the "Store")
	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	// Run migrations if requested
	if migrate {
		logg.Info("running database migrations")
		v, err := postgres.Migrate(pg.DB())
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		logg.Info("migrations completed", "version", v)
	}
	return pg, nil
}
