package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threatpulse/internal/api"
	"threatpulse/internal/api/handlers"
	apimiddleware "threatpulse/internal/api/middleware"
	"threatpulse/internal/config"
	"threatpulse/internal/domain/services"
	"threatpulse/internal/infrastructure/cache"
	"threatpulse/internal/infrastructure/store"
	"threatpulse/internal/sources"
	"threatpulse/internal/sources/free/abusech"
	"threatpulse/internal/sources/free/ip"
	"threatpulse/internal/sources/premium"
	"threatpulse/internal/streaming"
	"threatpulse/pkg/logger"
)

const hubBuffer = 4

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
	})
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting threatpulse")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var (
		sinks  []services.SnapshotSink
		checks = []handlers.ReadinessCheck{dataDirCheck(cfg.Storage.DataDir)}
	)

	// Optional Redis: snapshot mirror and shared rate limits
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing with local rate limits")
		} else {
			redisCache = rc
			defer redisCache.Close()
			sinks = append(sinks, redisCache)
			checks = append(checks, handlers.ReadinessCheck{Name: "redis", Check: redisCache.Ping})
		}
	}

	// Optional NATS: durable snapshot stream for downstream consumers
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		np, err := streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing without snapshot stream")
		} else {
			natsPublisher = np
			defer natsPublisher.Close()
			sinks = append(sinks, natsPublisher)
			checks = append(checks, handlers.ReadinessCheck{Name: "nats", Check: func(context.Context) error {
				if !natsPublisher.IsConnected() {
					return streaming.ErrNATSDisconnected
				}
				return nil
			}})
		}
	}

	limiter, err := newLimiter(cfg.RateLimit, redisCache)
	if err != nil {
		return err
	}

	// Persistence
	snapshots := store.NewSnapshotStore(cfg.Storage.DataDir, log)
	lists := store.NewListStore(cfg.Storage.DataDir, log)
	history := store.NewHistoryStore(cfg.Storage.DataDir, cfg.History, time.Now, log)

	// Feeds
	registry := sources.NewRegistry(log)
	registerConnectors(registry, log)
	registry.ConfigureFromSourcesConfig(cfg.Sources, cfg.Aggregation.SourceTimeout)

	aggregator := newAggregator(cfg, registry, lists, log)

	hub := streaming.NewHub(hubBuffer, log)
	defer hub.Close()

	distributor := services.NewDistributor(cfg.Aggregation, services.DistributorDeps{
		Fetcher:     aggregator,
		Store:       snapshots,
		History:     history,
		Broadcaster: hub,
		Sinks:       sinks,
	}, log)

	h := handlers.NewHandlers(handlers.Dependencies{
		Snapshots: distributor,
		History:   history,
		Lists:     lists,
		Registry:  registry,
		Checks:    checks,
		Version:   cfg.App.Version,
		Logger:    log,
	})
	ws := streaming.NewWebSocketServer(hub, distributor.Current, cfg.CORS.AllowedOrigins, log)
	router := api.NewRouter(*cfg, h, ws, limiter, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- distributor.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		distributor.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests, then let any in-flight cycle commit
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := <-loopErr; err != nil {
		log.Error().Err(err).Msg("refresh loop error")
	}
	return nil
}

func newLimiter(cfg config.RateLimitConfig, rc *cache.RedisCache) (apimiddleware.Limiter, error) {
	if rc != nil {
		return apimiddleware.NewRedisLimiter(rc), nil
	}
	l, err := apimiddleware.NewLocalLimiter(cfg.MaxTrackedCallers)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func newAggregator(cfg *config.Config, registry *sources.Registry, lists services.ListProvider, log *logger.Logger) *services.Aggregator {
	scorer := services.NewScorer(cfg.Scoring, time.Now, log)
	return services.NewAggregator(cfg.Aggregation, services.AggregatorDeps{
		Connectors:   registry,
		Normalizer:   services.NewNormalizer(services.NewValidator(), log),
		Deduplicator: services.NewDeduplicator(log),
		Enricher:     services.NewEnricher(scorer, log),
		Correlator:   services.NewCorrelator(cfg.Aggregation.CorrelationCap, log),
		Velocity:     services.NewVelocityCalculator(),
		Lists:        lists,
	}, log)
}

func dataDirCheck(dir string) handlers.ReadinessCheck {
	return handlers.ReadinessCheck{
		Name: "storage",
		Check: func(context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			return nil
		},
	}
}

// registerConnectors registers all available source connectors
func registerConnectors(registry *sources.Registry, log *logger.Logger) {
	if err := registry.Register(premium.NewAlienVaultOTXConnector(log)); err != nil {
		log.Warn().Err(err).Msg("failed to register AlienVault OTX connector")
	}
	if err := registry.Register(ip.NewAbuseIPDBConnector(log)); err != nil {
		log.Warn().Err(err).Msg("failed to register AbuseIPDB connector")
	}
	if err := registry.Register(premium.NewVirusTotalConnector(log)); err != nil {
		log.Warn().Err(err).Msg("failed to register VirusTotal connector")
	}
	if err := registry.Register(abusech.NewThreatFoxConnector(log)); err != nil {
		log.Warn().Err(err).Msg("failed to register ThreatFox connector")
	}

	log.Info().
		Int("total", registry.Count()).
		Int("enabled", registry.CountEnabled()).
		Msg("registered source connectors")
}
