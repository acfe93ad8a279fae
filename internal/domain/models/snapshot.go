package models

import "time"

// SnapshotTrigger records what started a cycle
type SnapshotTrigger string

const (
	TriggerStartup   SnapshotTrigger = "startup"
	TriggerScheduled SnapshotTrigger = "scheduled"
	TriggerOnDemand  SnapshotTrigger = "on_demand"
)

// SnapshotStatus describes the overall shape of a snapshot
type SnapshotStatus string

const (
	SnapshotStatusOK      SnapshotStatus = "ok"
	SnapshotStatusEmpty   SnapshotStatus = "empty"
	SnapshotStatusTimeout SnapshotStatus = "timeout"
)

// FeedStatus is the per-source outcome of one cycle
type FeedStatus string

const (
	FeedStatusOK            FeedStatus = "ok"
	FeedStatusCached        FeedStatus = "cached"
	FeedStatusNotConfigured FeedStatus = "not_configured"
	FeedStatusDisabled      FeedStatus = "disabled"
	FeedStatusError         FeedStatus = "error"
)

// SourceStatus is the raw outcome for one feed inside a snapshot.
// Threats keeps the feed's raw records so a rate-limited
// feed can be served from the previous snapshot.
type SourceStatus struct {
	Name      string            `json:"name"`
	Status    FeedStatus        `json:"status"`
	Count     int               `json:"count"`
	Error     string            `json:"error,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
	Duration  int64             `json:"duration_ms"`
	Threats   []RawThreatRecord `json:"threats,omitempty"`
}

// IsError reports whether the feed contributed nothing because of a failure
func (s SourceStatus) IsError() bool {
	return s.Status == FeedStatusError
}

// CorrelationGroup clusters indicators sharing one attribute value
type CorrelationGroup struct {
	Key       string   `json:"key"`
	Dimension string   `json:"dimension"`
	Value     string   `json:"value"`
	Count     int      `json:"count"`
	Members   []string `json:"members"`
	Sample    []string `json:"sample"`
	MaxRisk   float64  `json:"max_risk_score"`
}

// Trend is the direction of the hourly volume
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Velocity summarizes how fast indicators arrive
type Velocity struct {
	ThreatsPerHour     float64     `json:"threats_per_hour"`
	PeakHour           int         `json:"peak_hour"`
	PeakCount          int         `json:"peak_count"`
	Trend              Trend       `json:"trend"`
	VelocityScore      float64     `json:"velocity_score"`
	HourlyDistribution map[int]int `json:"hourly_distribution"`
	Timestamped        int         `json:"timestamped"`
}

// CountEntry is one row of a ranked count table
type CountEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// SnapshotMetrics holds aggregate statistics over a snapshot
type SnapshotMetrics struct {
	UniqueIndicators int          `json:"unique_indicators"`
	TopCountries     []CountEntry `json:"top_countries"`
	TopTypes         []CountEntry `json:"top_types"`
	AverageRiskScore float64      `json:"average_risk_score"`
	SourcesReporting int          `json:"sources_reporting"`
	BlacklistedCount int          `json:"blacklisted_count"`
	DroppedInvalid   int          `json:"dropped_invalid"`
	Whitelisted      int          `json:"whitelisted"`
	ThreatActors     []string     `json:"threat_actors,omitempty"`
}

// AggregateSnapshot is the result of one fetch cycle. It is never
// modified after it is published.
type AggregateSnapshot struct {
	ID           string                  `json:"id"`
	Timestamp    time.Time               `json:"timestamp"`
	Trigger      SnapshotTrigger         `json:"trigger"`
	Status       SnapshotStatus          `json:"status"`
	DurationMS   int64                   `json:"duration_ms"`
	Error        string                  `json:"error,omitempty"`
	Sources      map[string]SourceStatus `json:"sources"`
	TotalThreats int                     `json:"total_threats"`
	ByType       map[string]int          `json:"by_type"`
	ByCountry    map[string]int          `json:"by_country"`
	BySeverity   map[string]int          `json:"by_severity"`
	TopThreats   []ThreatRecord          `json:"top_threats"`
	Correlations []CorrelationGroup      `json:"correlations"`
	Velocity     Velocity                `json:"velocity"`
	Metrics      SnapshotMetrics         `json:"metrics"`
}

// NewEmptySnapshot returns a default-shaped snapshot with every collection allocated
func NewEmptySnapshot(now time.Time) *AggregateSnapshot {
	bySeverity := make(map[string]int, len(AllSeverities))
	for _, s := range AllSeverities {
		bySeverity[string(s)] = 0
	}
	return &AggregateSnapshot{
		Timestamp:    now.UTC(),
		Status:       SnapshotStatusEmpty,
		Sources:      map[string]SourceStatus{},
		ByType:       map[string]int{},
		ByCountry:    map[string]int{},
		BySeverity:   bySeverity,
		TopThreats:   []ThreatRecord{},
		Correlations: []CorrelationGroup{},
		Velocity: Velocity{
			Trend:              TrendStable,
			HourlyDistribution: map[int]int{},
		},
		Metrics: SnapshotMetrics{
			TopCountries: []CountEntry{},
			TopTypes:     []CountEntry{},
		},
	}
}

// NewTimeoutSnapshot returns the shape served when a refresh deadline
// passes with nothing cached
func NewTimeoutSnapshot(now time.Time, msg string) *AggregateSnapshot {
	s := NewEmptySnapshot(now)
	s.Status = SnapshotStatusTimeout
	s.Trigger = TriggerOnDemand
	s.Error = msg
	return s
}

// IsEmpty reports whether the snapshot carries no threats
func (s *AggregateSnapshot) IsEmpty() bool {
	return s == nil || s.TotalThreats == 0
}

// SourceThreats returns the records a source contributed, if any
func (s *AggregateSnapshot) SourceThreats(slug string) ([]RawThreatRecord, bool) {
	if s == nil {
		return nil, false
	}
	st, ok := s.Sources[slug]
	if !ok || st.IsError() || len(st.Threats) == 0 {
		return nil, false
	}
	return st.Threats, true
}

// Public returns a shallow copy without per-source record payloads,
// suitable for clients
func (s *AggregateSnapshot) Public() *AggregateSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Sources = make(map[string]SourceStatus, len(s.Sources))
	for slug, st := range s.Sources {
		st.Threats = nil
		out.Sources[slug] = st
	}
	return &out
}
