package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"threatpulse/internal/config"
	"threatpulse/internal/domain/models"
	"threatpulse/internal/metrics"
	"threatpulse/internal/sources"
	"threatpulse/pkg/logger"
)

const (
	maxErrorLength   = 200
	topEntriesLimit  = 5
	defaultWorkers   = 4
	defaultRankedCap = 100
	defaultTopCap    = 50
)

// ConnectorSource lists the feed connectors to query
type ConnectorSource interface {
	List() []sources.Connector
}

// Aggregator orchestrates one fetch cycle across all feeds
type Aggregator struct {
	config       config.AggregationConfig
	connectors   ConnectorSource
	normalizer   *Normalizer
	deduplicator *Deduplicator
	enricher     *Enricher
	correlator   *Correlator
	velocity     *VelocityCalculator
	lists        ListProvider
	now          func() time.Time
	logger       *logger.Logger
}

// AggregatorDeps groups the pipeline stages used by the Aggregator
type AggregatorDeps struct {
	Connectors   ConnectorSource
	Normalizer   *Normalizer
	Deduplicator *Deduplicator
	Enricher     *Enricher
	Correlator   *Correlator
	Velocity     *VelocityCalculator
	Lists        ListProvider
	Now          func() time.Time
}

// NewAggregator creates a new Aggregator
func NewAggregator(cfg config.AggregationConfig, deps AggregatorDeps, log *logger.Logger) *Aggregator {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = defaultWorkers
	}
	if cfg.RankedCap <= 0 {
		cfg.RankedCap = defaultRankedCap
	}
	if cfg.TopThreatsCap <= 0 {
		cfg.TopThreatsCap = defaultTopCap
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		config:       cfg,
		connectors:   deps.Connectors,
		normalizer:   deps.Normalizer,
		deduplicator: deps.Deduplicator,
		enricher:     deps.Enricher,
		correlator:   deps.Correlator,
		velocity:     deps.Velocity,
		lists:        deps.Lists,
		now:          now,
		logger:       log.WithComponent("aggregator"),
	}
}

type sourceOutcome struct {
	slug   string
	status models.SourceStatus
}

// Aggregate runs every connector and assembles one snapshot. It always
// returns a complete snapshot; feed failures only annotate their status.
func (a *Aggregator) Aggregate(ctx context.Context, previous *models.AggregateSnapshot, trigger models.SnapshotTrigger) *models.AggregateSnapshot {
	start := a.now()
	conns := a.connectors.List()

	a.logger.Info().
		Int("connectors", len(conns)).
		Int("worker_pool_size", a.config.WorkerPoolSize).
		Str("trigger", string(trigger)).
		Msg("starting aggregation cycle")

	outcomes := make([]sourceOutcome, len(conns))
	g := new(errgroup.Group)
	g.SetLimit(a.config.WorkerPoolSize)
	for i, conn := range conns {
		g.Go(func() error {
			outcomes[i] = a.fetchSource(ctx, conn, previous)
			return nil
		})
	}
	_ = g.Wait()

	snap := a.assemble(outcomes, trigger, start)

	a.logger.Info().
		Str("snapshot_id", snap.ID).
		Int("total_threats", snap.TotalThreats).
		Int("top_threats", len(snap.TopThreats)).
		Int("correlations", len(snap.Correlations)).
		Int64("duration_ms", snap.DurationMS).
		Msg("aggregation cycle completed")

	return snap
}

// fetchSource runs one connector and classifies its outcome
func (a *Aggregator) fetchSource(ctx context.Context, conn sources.Connector, previous *models.AggregateSnapshot) (out sourceOutcome) {
	slug := conn.Slug()
	log := a.logger.WithSourceID(slug)
	started := a.now()

	out = sourceOutcome{
		slug: slug,
		status: models.SourceStatus{
			Name:      conn.Name(),
			FetchedAt: started.UTC(),
		},
	}
	defer func() {
		if r := recover(); r != nil {
			out.status.Status = models.FeedStatusError
			out.status.Error = truncateError(fmt.Sprintf("panic: %v", r))
			out.status.Threats = nil
			out.status.Count = 0
			log.Error().Interface("panic", r).Msg("connector panicked")
		}
		out.status.Duration = a.now().Sub(started).Milliseconds()
		metrics.SourceFetches.WithLabelValues(slug, string(out.status.Status)).Inc()
	}()

	if !conn.IsEnabled() {
		out.status.Status = models.FeedStatusDisabled
		return out
	}

	fetchCtx := ctx
	if a.config.SourceTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, a.config.SourceTimeout)
		defer cancel()
	}

	result, err := conn.Fetch(fetchCtx, a.config.FetchLimit)
	switch {
	case err == nil:
		threats := []models.RawThreatRecord{}
		if result != nil {
			threats = result.Threats
		}
		for i := range threats {
			if threats[i].Source == "" {
				threats[i].Source = slug
			}
		}
		out.status.Status = models.FeedStatusOK
		out.status.Threats = threats
		out.status.Count = len(threats)
		log.Debug().Int("count", len(threats)).Msg("source fetched")

	case errors.Is(err, sources.ErrNotConfigured):
		out.status.Status = models.FeedStatusNotConfigured
		out.status.Error = truncateError(err.Error())
		log.Info().Msg("source not configured")

	case errors.Is(err, sources.ErrRateLimited):
		if cached, ok := previous.SourceThreats(slug); ok {
			out.status.Status = models.FeedStatusCached
			out.status.Threats = cached
			out.status.Count = len(cached)
			log.Warn().Int("cached", len(cached)).Msg("source rate limited, reusing previous snapshot")
		} else {
			out.status.Status = models.FeedStatusError
			out.status.Error = truncateError(err.Error())
			log.Warn().Msg("source rate limited with no previous data")
		}

	default:
		out.status.Status = models.FeedStatusError
		out.status.Error = truncateError(err.Error())
		log.Error().Err(err).Msg("source fetch failed")
	}

	return out
}

// assemble runs the record pipeline over fetched outcomes
func (a *Aggregator) assemble(outcomes []sourceOutcome, trigger models.SnapshotTrigger, start time.Time) *models.AggregateSnapshot {
	snap := models.NewEmptySnapshot(a.now())
	snap.ID = uuid.NewString()
	snap.Trigger = trigger

	var raws []models.RawThreatRecord
	for _, o := range outcomes {
		snap.Sources[o.slug] = o.status
		raws = append(raws, o.status.Threats...)
	}

	records, dropped := a.normalizer.NormalizeBatch(raws)
	if dropped > 0 {
		metrics.DroppedRecords.Add(float64(dropped))
	}
	records = a.deduplicator.Deduplicate(records)

	var lists models.ThreatLists
	if a.lists != nil {
		lists = a.lists.Lists()
	}
	filtered := ApplyLists(records, lists)
	records = filtered.Records

	a.enricher.EnrichAll(records)
	RankRecords(records)

	ranked := records
	if len(ranked) > a.config.RankedCap {
		ranked = ranked[:a.config.RankedCap]
	}
	top := ranked
	if len(top) > a.config.TopThreatsCap {
		top = top[:a.config.TopThreatsCap]
	}

	snap.TopThreats = append(make([]models.ThreatRecord, 0, len(top)), top...)
	// groups and velocity cover every surviving record, not just the ranked head
	snap.Correlations = a.correlator.Correlate(records)
	snap.Velocity = a.velocity.Calculate(records)

	fillCounts(snap, records)
	snap.Metrics.DroppedInvalid = dropped
	snap.Metrics.Whitelisted = filtered.Whitelisted
	snap.Metrics.BlacklistedCount = filtered.Blacklisted
	for _, st := range snap.Sources {
		if st.Count > 0 {
			snap.Metrics.SourcesReporting++
		}
	}

	if snap.TotalThreats > 0 {
		snap.Status = models.SnapshotStatusOK
	}
	snap.DurationMS = a.now().Sub(start).Milliseconds()
	return snap
}

// RankRecords sorts by risk score, raw score, then indicator, all descending
func RankRecords(records []models.ThreatRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := records[i], records[j]
		if ri.RiskScore != rj.RiskScore {
			return ri.RiskScore > rj.RiskScore
		}
		if ri.RawScore() != rj.RawScore() {
			return ri.RawScore() > rj.RawScore()
		}
		return ri.Indicator > rj.Indicator
	})
}

func fillCounts(snap *models.AggregateSnapshot, records []models.ThreatRecord) {
	snap.TotalThreats = len(records)
	unique := make(map[string]bool, len(records))
	actors := make(map[string]bool)
	var riskSum float64

	for _, rec := range records {
		snap.ByType[rec.Type.String()]++
		snap.ByCountry[rec.Country]++
		snap.BySeverity[string(rec.Severity)]++
		unique[ListKey(rec.Indicator)] = true
		riskSum += rec.RiskScore
		for _, actor := range rec.ThreatActors {
			actors[actor] = true
		}
	}

	snap.Metrics.UniqueIndicators = len(unique)
	snap.Metrics.TopCountries = topEntries(snap.ByCountry, topEntriesLimit)
	snap.Metrics.TopTypes = topEntries(snap.ByType, topEntriesLimit)
	if len(records) > 0 {
		snap.Metrics.AverageRiskScore = riskSum / float64(len(records))
	}
	if len(actors) > 0 {
		names := make([]string, 0, len(actors))
		for name := range actors {
			names = append(names, name)
		}
		sort.Strings(names)
		snap.Metrics.ThreatActors = names
	}
}

func topEntries(counts map[string]int, n int) []models.CountEntry {
	entries := make([]models.CountEntry, 0, len(counts))
	for k, v := range counts {
		if v > 0 {
			entries = append(entries, models.CountEntry{Key: k, Count: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// truncateError keeps at most maxErrorLength runes of an error message
func truncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLength {
		return msg
	}
	r := []rune(msg)
	return string(r[:maxErrorLength])
}
