package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aikeygate/gateway/internal/auth"
	"github.com/aikeygate/gateway/internal/config"
	"github.com/aikeygate/gateway/internal/httpserver"
	"github.com/aikeygate/gateway/internal/platform"
	"github.com/aikeygate/gateway/internal/telemetry"
	"github.com/aikeygate/gateway/internal/version"
	"github.com/aikeygate/gateway/pkg/cleanup"
	"github.com/aikeygate/gateway/pkg/cooldowncache"
	"github.com/aikeygate/gateway/pkg/failover"
	"github.com/aikeygate/gateway/pkg/healthscore"
	"github.com/aikeygate/gateway/pkg/importer"
	"github.com/aikeygate/gateway/pkg/keystore"
	"github.com/aikeygate/gateway/pkg/maincache"
	"github.com/aikeygate/gateway/pkg/providers"
	"github.com/aikeygate/gateway/pkg/proxy"
	"github.com/aikeygate/gateway/pkg/stateupdater"
)

// cooldownCacheCapacity bounds the in-memory penalty box. At this size the
// cache holds roughly a day of flagged keys across a busy multi-provider
// deployment before lazy expiry on lookup or LRU eviction reclaims entries.
const cooldownCacheCapacity = 10_000

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the mode selected by cfg.Mode: "api" runs the
// proxy server, "cleanup-worker" runs only the administrative sweep loop,
// and "import-keys" runs the one-shot CSV importer.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting aikeygate",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, version.ServiceName, version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	// Redis is reserved for a future distributed Cooldown Cache (see
	// config.Config.RedisURL); the in-memory cache is authoritative today,
	// so an unreachable Redis at startup is logged, not fatal.
	rdb := platform.NewOptionalRedisClient(ctx, cfg.RedisURL, logger)
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	}

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)
	repo := keystore.NewPostgresRepository(db)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, repo, metricsReg)
	case "cleanup-worker":
		return runCleanupWorker(ctx, cfg, logger, repo)
	case "import-keys":
		return runImport(ctx, cfg, logger, repo)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// directUpstreamBaseURLs are each provider's own API origin.
var directUpstreamBaseURLs = map[string]string{
	"openai":    "https://api.openai.com",
	"mistral":   "https://api.mistral.ai",
	"groq":      "https://api.groq.com/openai",
	"anthropic": "https://api.anthropic.com",
	"google":    "https://generativelanguage.googleapis.com",
}

// upstreamBaseURL resolves a provider's base URL per cfg.IsLocal
// (spec.md §6): local development talks to the provider directly, a
// non-local deployment routes through the configured gateway-fronted
// origin (cfg.AIGatewayBaseURL + "/" + tag) when one is set, falling back
// to the direct origin otherwise.
func upstreamBaseURL(cfg *config.Config, tag string) string {
	direct := directUpstreamBaseURLs[tag]
	if cfg.IsLocal || cfg.AIGatewayBaseURL == "" {
		return direct
	}
	return strings.TrimRight(cfg.AIGatewayBaseURL, "/") + "/" + tag
}

// buildTable constructs the provider capability table. Operators adding a
// new upstream register one Capability here; no failover or classification
// code branches on a provider tag.
func buildTable(cfg *config.Config) *providers.Table {
	return providers.NewTable(
		providers.OpenAICompatible("openai", upstreamBaseURL(cfg, "openai")),
		providers.OpenAICompatible("mistral", upstreamBaseURL(cfg, "mistral")),
		providers.OpenAICompatible("groq", upstreamBaseURL(cfg, "groq")),
		providers.Passthrough("anthropic", upstreamBaseURL(cfg, "anthropic"), "x-api-key"),
		providers.Google("google", upstreamBaseURL(cfg, "google")),
	)
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, repo keystore.Repository, metricsReg *prometheus.Registry) error {
	cooldown := cooldowncache.New(cooldownCacheCapacity)
	stats := healthscore.NewStatsStore()
	mainC := maincache.New(repo, stats, cfg.MainCacheTTL)
	table := buildTable(cfg)
	updater := stateupdater.New(cooldown, mainC, stats, repo, logger)
	engine := failover.New(mainC, cooldown, updater, table,
		failover.WithTimeouts(cfg.OverallTimeout, cfg.TargetTimeout),
		failover.WithLogger(logger),
		failover.WithGatewayToken(cfg.AIGatewayToken),
	)

	authMiddleware := auth.Middleware(cfg.AuthKey, cfg.IsLocal, logger)
	srv := httpserver.NewServer(cfg, logger, db, metricsReg, authMiddleware)

	srv.Router.Get("/status", srv.HandleStatus)

	resolver := proxy.NewPrefixResolver(proxy.DefaultPrefixRules...)
	proxyHandler := proxy.NewHandler(engine, resolver, logger)
	srv.APIRouter.Mount("/", proxyHandler.Routes())

	// The cleanup sweep also runs in-process in "api" mode so a single
	// deployment unit is sufficient for small installs; operators running
	// it as a separate process use GATEWAY_MODE=cleanup-worker instead and
	// should not run both against the same database.
	cleanupLoop := cleanup.New(repo, stats, mainC, table, cfg.RecoveryThreshold, logger)
	go func() {
		if err := cleanupLoop.Run(ctx, cfg.CleanupInterval); err != nil {
			logger.Error("cleanup loop exited", "error", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.OverallTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runCleanupWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, repo keystore.Repository) error {
	stats := healthscore.NewStatsStore()
	mainC := maincache.New(repo, stats, cfg.MainCacheTTL)
	table := buildTable(cfg)

	loop := cleanup.New(repo, stats, mainC, table, cfg.RecoveryThreshold, logger)
	return loop.Run(ctx, cfg.CleanupInterval)
}

func runImport(ctx context.Context, cfg *config.Config, logger *slog.Logger, repo keystore.Repository) error {
	if cfg.ImportFilePath == "" {
		return errors.New("import-keys mode requires IMPORT_FILE_PATH")
	}

	f, err := os.Open(cfg.ImportFilePath)
	if err != nil {
		return fmt.Errorf("opening import file: %w", err)
	}
	defer f.Close()

	stats := healthscore.NewStatsStore()
	mainC := maincache.New(repo, stats, cfg.MainCacheTTL)

	result, err := importer.Import(ctx, f, repo, mainC, logger)
	if err != nil {
		return fmt.Errorf("importing keys: %w", err)
	}

	logger.Info("import complete", "inserted", result.Inserted, "skipped", result.Skipped)
	return nil
}
