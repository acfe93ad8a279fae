// Command aggregator runs a single fetch cycle outside the API server:
// it fetches every feed, persists the snapshot and history, mirrors it
// to the configured sinks and prints a summary. Suited to cron.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"threatpulse/internal/config"
	"threatpulse/internal/domain/models"
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

const (
	// Lock settings
	lockTTL     = 5 * time.Minute
	lockName    = "aggregator:worker"
	lockRefresh = 1 * time.Minute

	// Retry settings
	maxRetries     = 3
	baseRetryDelay = 30 * time.Second
	maxRetryDelay  = 5 * time.Minute

	sinkTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
	}).WithComponent("aggregator-worker")
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker, err := NewAggregatorWorker(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize worker")
	}
	defer worker.Close()

	snap, err := worker.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("aggregation failed")
	}
	if snap != nil {
		printSummary(os.Stdout, snap)
	}
}

// AggregatorWorker runs one cycle and commits it
type AggregatorWorker struct {
	aggregator *services.Aggregator
	snapshots  *store.SnapshotStore
	history    *store.HistoryStore
	cache      *cache.RedisCache
	nats       *streaming.NATSPublisher
	sinks      []services.SnapshotSink
	logger     *logger.Logger
}

// NewAggregatorWorker wires the pipeline, stores and optional sinks
func NewAggregatorWorker(ctx context.Context, cfg *config.Config, log *logger.Logger) (*AggregatorWorker, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	w := &AggregatorWorker{
		snapshots: store.NewSnapshotStore(cfg.Storage.DataDir, log),
		history:   store.NewHistoryStore(cfg.Storage.DataDir, cfg.History, time.Now, log),
		logger:    log,
	}

	if cfg.Redis.Enabled {
		rc, err := cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, running without lock or mirror")
		} else {
			w.cache = rc
			w.sinks = append(w.sinks, rc)
		}
	}
	if cfg.NATS.Enabled {
		np, err := streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, running without snapshot stream")
		} else {
			w.nats = np
			w.sinks = append(w.sinks, np)
		}
	}

	registry := sources.NewRegistry(log)
	registerConnectors(registry, log)
	registry.ConfigureFromSourcesConfig(cfg.Sources, cfg.Aggregation.SourceTimeout)

	scorer := services.NewScorer(cfg.Scoring, time.Now, log)
	w.aggregator = services.NewAggregator(cfg.Aggregation, services.AggregatorDeps{
		Connectors:   registry,
		Normalizer:   services.NewNormalizer(services.NewValidator(), log),
		Deduplicator: services.NewDeduplicator(log),
		Enricher:     services.NewEnricher(scorer, log),
		Correlator:   services.NewCorrelator(cfg.Aggregation.CorrelationCap, log),
		Velocity:     services.NewVelocityCalculator(),
		Lists:        store.NewListStore(cfg.Storage.DataDir, log),
	}, log)

	return w, nil
}

// Close releases connections
func (w *AggregatorWorker) Close() {
	if w.nats != nil {
		w.nats.Close()
	}
	if w.cache != nil {
		w.cache.Close()
	}
}

// Run takes the worker lock when Redis is available, then aggregates
// with retry. A nil snapshot means another worker held the lock.
func (w *AggregatorWorker) Run(ctx context.Context) (*models.AggregateSnapshot, error) {
	if w.cache != nil {
		acquired, err := w.cache.AcquireLock(ctx, lockName, lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if !acquired {
			w.logger.Info().Msg("another worker is running, skipping")
			return nil, nil
		}
		defer func() {
			if err := w.cache.ReleaseLock(context.WithoutCancel(ctx), lockName); err != nil {
				w.logger.Warn().Err(err).Msg("failed to release lock")
			}
		}()

		lockCtx, lockCancel := context.WithCancel(ctx)
		defer lockCancel()
		go w.refreshLock(lockCtx)
	}

	previous, err := w.snapshots.LoadSnapshot()
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to load previous snapshot, rate-limited feeds will be empty")
	}

	snap, err := w.runWithRetry(ctx, previous)
	if err != nil {
		return nil, err
	}
	w.commit(ctx, snap)
	return snap, nil
}

func (w *AggregatorWorker) refreshLock(ctx context.Context) {
	ticker := time.NewTicker(lockRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cache.ExtendLock(ctx, lockName, lockTTL); err != nil {
				w.logger.Warn().Err(err).Msg("failed to refresh lock")
			}
		}
	}
}

// runWithRetry repeats the cycle with exponential backoff while every
// configured feed fails. Partial success is committed as is.
func (w *AggregatorWorker) runWithRetry(ctx context.Context, previous *models.AggregateSnapshot) (*models.AggregateSnapshot, error) {
	var snap *models.AggregateSnapshot
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt)
			w.logger.Info().
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("retrying aggregation after delay")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		snap = w.aggregator.Aggregate(ctx, previous, models.TriggerScheduled)
		if !allFeedsFailed(snap) {
			return snap, nil
		}
		w.logger.Warn().Int("attempt", attempt+1).Msg("every feed failed")
	}
	return snap, nil
}

// commit mirrors what the API server does after a cycle
func (w *AggregatorWorker) commit(ctx context.Context, snap *models.AggregateSnapshot) {
	if err := w.snapshots.SaveSnapshot(snap); err != nil {
		w.logger.Error().Err(err).Msg("failed to persist snapshot")
	}
	if snap.Status == models.SnapshotStatusOK {
		if err := w.history.Append(snap); err != nil {
			w.logger.Error().Err(err).Msg("failed to append history")
		}
	}

	public := snap.Public()
	for _, sink := range w.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		if err := sink.PublishSnapshot(sctx, public); err != nil {
			w.logger.Warn().Err(err).Str("sink", sink.Name()).Msg("failed to publish snapshot")
		}
		cancel()
	}
}

// allFeedsFailed reports whether at least one feed errored and none
// produced records. Unconfigured and disabled feeds are not failures.
func allFeedsFailed(snap *models.AggregateSnapshot) bool {
	failed := 0
	for _, st := range snap.Sources {
		switch st.Status {
		case models.FeedStatusOK, models.FeedStatusCached:
			return false
		case models.FeedStatusError:
			failed++
		}
	}
	return failed > 0
}

// calculateBackoff calculates exponential backoff delay
func calculateBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func printSummary(out io.Writer, snap *models.AggregateSnapshot) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "snapshot\t%s\n", snap.ID)
	fmt.Fprintf(tw, "status\t%s\n", snap.Status)
	fmt.Fprintf(tw, "duration\t%dms\n", snap.DurationMS)
	fmt.Fprintf(tw, "total threats\t%d\n", snap.TotalThreats)
	fmt.Fprintf(tw, "average risk\t%.1f\n", snap.Metrics.AverageRiskScore)
	fmt.Fprintf(tw, "trend\t%s\n", snap.Velocity.Trend)
	fmt.Fprintln(tw)

	slugs := make([]string, 0, len(snap.Sources))
	for slug := range snap.Sources {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	fmt.Fprintln(tw, "SOURCE\tSTATUS\tCOUNT\tERROR")
	for _, slug := range slugs {
		st := snap.Sources[slug]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", slug, st.Status, st.Count, st.Error)
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
}
