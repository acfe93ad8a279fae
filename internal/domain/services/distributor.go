package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"threatpulse/internal/config"
	"threatpulse/internal/domain/models"
	"threatpulse/internal/metrics"
	"threatpulse/pkg/logger"
)

const (
	cycleKey              = "cycle"
	defaultPollInterval   = 15 * time.Minute
	defaultRefreshTimeout = 90 * time.Second
	sinkTimeout           = 10 * time.Second
)

// ErrDistributorStopped is returned by Refresh after Stop
var ErrDistributorStopped = errors.New("distributor stopped")

// SnapshotFetcher produces one snapshot per call
type SnapshotFetcher interface {
	Aggregate(ctx context.Context, previous *models.AggregateSnapshot, trigger models.SnapshotTrigger) *models.AggregateSnapshot
}

// SnapshotStore persists the latest snapshot
type SnapshotStore interface {
	LoadSnapshot() (*models.AggregateSnapshot, error)
	SaveSnapshot(snap *models.AggregateSnapshot) error
}

// HistoryRecorder appends a snapshot summary to the daily history
type HistoryRecorder interface {
	Append(snap *models.AggregateSnapshot) error
}

// Broadcaster fans a snapshot out to live subscribers
type Broadcaster interface {
	Broadcast(snap *models.AggregateSnapshot) int
}

// SnapshotSink receives every committed snapshot (Redis mirror, NATS subject)
type SnapshotSink interface {
	Name() string
	PublishSnapshot(ctx context.Context, snap *models.AggregateSnapshot) error
}

// DistributorDeps groups the collaborators of a Distributor
type DistributorDeps struct {
	Fetcher     SnapshotFetcher
	Store       SnapshotStore
	History     HistoryRecorder
	Broadcaster Broadcaster
	Sinks       []SnapshotSink
	Now         func() time.Time
}

// RefreshResult is the answer to an on-demand refresh
type RefreshResult struct {
	Snapshot *models.AggregateSnapshot `json:"snapshot"`
	TimedOut bool                      `json:"timed_out"`
}

// Distributor owns the authoritative snapshot. It runs the periodic
// refresh loop, answers bounded on-demand refreshes, and commits each
// completed cycle: persist, history, swap, broadcast, sinks.
type Distributor struct {
	pollInterval   time.Duration
	refreshTimeout time.Duration

	fetcher     SnapshotFetcher
	store       SnapshotStore
	history     HistoryRecorder
	broadcaster Broadcaster
	sinks       []SnapshotSink
	now         func() time.Time
	logger      *logger.Logger

	current  atomic.Pointer[models.AggregateSnapshot]
	group    singleflight.Group
	commitMu sync.Mutex

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
	loopDone chan struct{}
}

// NewDistributor creates a Distributor with an empty cache
func NewDistributor(cfg config.AggregationConfig, deps DistributorDeps, log *logger.Logger) *Distributor {
	d := &Distributor{
		pollInterval:   cfg.PollInterval,
		refreshTimeout: cfg.RefreshTimeout,
		fetcher:        deps.Fetcher,
		store:          deps.Store,
		history:        deps.History,
		broadcaster:    deps.Broadcaster,
		sinks:          deps.Sinks,
		now:            deps.Now,
		logger:         log.WithComponent("distributor"),
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultPollInterval
	}
	if d.refreshTimeout <= 0 {
		d.refreshTimeout = defaultRefreshTimeout
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.current.Store(models.NewEmptySnapshot(d.now()))
	return d
}

// LoadCache seeds the cache from the persisted snapshot. A missing or
// unreadable file leaves the empty snapshot in place.
func (d *Distributor) LoadCache() {
	if d.store == nil {
		return
	}
	snap, err := d.store.LoadSnapshot()
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to load persisted snapshot, starting empty")
		return
	}
	if snap == nil {
		return
	}
	d.current.Store(snap)
	metrics.SnapshotThreats.Set(float64(snap.TotalThreats))
	d.logger.Info().
		Str("snapshot_id", snap.ID).
		Int("total_threats", snap.TotalThreats).
		Time("timestamp", snap.Timestamp).
		Msg("loaded persisted snapshot")
}

// Current returns the cached snapshot. It never blocks and never returns nil.
func (d *Distributor) Current() *models.AggregateSnapshot {
	return d.current.Load()
}

// Run loads the cache, then cycles every poll interval until ctx is
// cancelled. The first cycle starts immediately. On return every
// in-flight cycle has finished.
func (d *Distributor) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.loopDone != nil {
		d.mu.Unlock()
		return errors.New("distributor already running")
	}
	d.loopDone = make(chan struct{})
	d.mu.Unlock()
	defer close(d.loopDone)

	d.LoadCache()
	d.logger.Info().Dur("poll_interval", d.pollInterval).Msg("distributor started")

	timer := time.NewTimer(0)
	defer timer.Stop()
	trigger := models.TriggerStartup

	for {
		select {
		case <-ctx.Done():
			d.Stop()
			d.logger.Info().Msg("distributor stopped")
			return nil
		case <-timer.C:
			select {
			case <-d.startCycle(ctx, trigger):
			case <-ctx.Done():
				d.Stop()
				d.logger.Info().Msg("distributor stopped during cycle")
				return nil
			}
			trigger = models.TriggerScheduled
			timer.Reset(d.pollInterval)
		}
	}
}

// Refresh runs a cycle bounded by the refresh timeout. A cycle already
// in flight is joined instead of started. On timeout the fetch keeps
// running and commits later; the caller gets the cached snapshot, or
// the timeout shape when the cache is empty.
func (d *Distributor) Refresh(ctx context.Context) (RefreshResult, error) {
	if d.isStopped() {
		return RefreshResult{Snapshot: d.Current()}, ErrDistributorStopped
	}

	timer := time.NewTimer(d.refreshTimeout)
	defer timer.Stop()

	select {
	case res := <-d.startCycle(ctx, models.TriggerOnDemand):
		snap, _ := res.Val.(*models.AggregateSnapshot)
		if snap == nil {
			snap = d.Current()
		}
		return RefreshResult{Snapshot: snap}, nil

	case <-timer.C:
		metrics.RefreshTimeouts.Inc()
		cur := d.Current()
		if cur.IsEmpty() {
			msg := fmt.Sprintf("refresh did not complete within %s", d.refreshTimeout)
			timeout := models.NewTimeoutSnapshot(d.now(), msg)
			if d.current.CompareAndSwap(cur, timeout) {
				cur = timeout
			} else {
				cur = d.Current()
			}
		}
		d.logger.Warn().Dur("timeout", d.refreshTimeout).Msg("on-demand refresh timed out")
		return RefreshResult{Snapshot: cur, TimedOut: true}, nil

	case <-ctx.Done():
		return RefreshResult{Snapshot: d.Current()}, ctx.Err()
	}
}

// Stop prevents new cycles and waits for in-flight ones to commit
func (d *Distributor) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.inflight.Wait()
}

// Wait blocks until Run has returned
func (d *Distributor) Wait() {
	d.mu.Lock()
	done := d.loopDone
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (d *Distributor) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// startCycle joins or launches the single in-flight cycle. The fetch is
// detached from ctx so cancelling the caller never interrupts it.
func (d *Distributor) startCycle(ctx context.Context, trigger models.SnapshotTrigger) <-chan singleflight.Result {
	detached := context.WithoutCancel(ctx)
	return d.group.DoChan(cycleKey, func() (any, error) {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return d.Current(), nil
		}
		d.inflight.Add(1)
		d.mu.Unlock()
		defer d.inflight.Done()

		return d.runCycle(detached, trigger), nil
	})
}

func (d *Distributor) runCycle(ctx context.Context, trigger models.SnapshotTrigger) *models.AggregateSnapshot {
	start := d.now()
	snap := d.fetcher.Aggregate(ctx, d.Current(), trigger)
	if snap == nil {
		snap = models.NewEmptySnapshot(d.now())
		snap.Trigger = trigger
	}
	d.commit(ctx, snap)

	metrics.CyclesTotal.WithLabelValues(string(trigger), string(snap.Status)).Inc()
	metrics.CycleDuration.Observe(d.now().Sub(start).Seconds())
	return snap
}

// commit persists, records history, swaps the cache, and fans out.
// Persistence and sink failures are logged and never block the swap.
func (d *Distributor) commit(ctx context.Context, snap *models.AggregateSnapshot) {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	log := d.logger.With().Str("snapshot_id", snap.ID).Logger()

	if d.store != nil {
		if err := d.store.SaveSnapshot(snap); err != nil {
			log.Error().Err(err).Msg("failed to persist snapshot")
		}
	}
	if d.history != nil && snap.Status == models.SnapshotStatusOK {
		if err := d.history.Append(snap); err != nil {
			log.Error().Err(err).Msg("failed to append history")
		}
	}

	d.current.Store(snap)
	metrics.SnapshotThreats.Set(float64(snap.TotalThreats))

	public := snap.Public()
	if d.broadcaster != nil {
		n := d.broadcaster.Broadcast(public)
		log.Debug().Int("subscribers", n).Msg("snapshot broadcast")
	}

	for _, sink := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := sink.PublishSnapshot(sinkCtx, public); err != nil {
			metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			log.Warn().Err(err).Str("sink", sink.Name()).Msg("snapshot sink failed")
		}
		cancel()
	}

	log.Info().
		Str("status", string(snap.Status)).
		Int("total_threats", snap.TotalThreats).
		Msg("snapshot committed")
}
