package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"threatpulse/internal/config"
	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

const (
	historyDateLayout     = "2006-01-02"
	defaultEntriesPerDay  = 24
	defaultMaxHistoryDays = 30
)

// HistoryStore appends snapshot summaries to one file per UTC day
type HistoryStore struct {
	dir           string
	entriesPerDay int
	maxDays       int
	now           func() time.Time
	logger        *logger.Logger

	mu sync.Mutex
}

// NewHistoryStore creates a HistoryStore under dataDir
func NewHistoryStore(dataDir string, cfg config.HistoryConfig, now func() time.Time, log *logger.Logger) *HistoryStore {
	if cfg.MaxEntriesPerDay <= 0 {
		cfg.MaxEntriesPerDay = defaultEntriesPerDay
	}
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = defaultMaxHistoryDays
	}
	if now == nil {
		now = time.Now
	}
	return &HistoryStore{
		dir:           dataDir,
		entriesPerDay: cfg.MaxEntriesPerDay,
		maxDays:       cfg.MaxDays,
		now:           now,
		logger:        log.WithComponent("history-store"),
	}
}

func (h *HistoryStore) path(date string) string {
	return filepath.Join(h.dir, "history_"+date+".json")
}

// Append adds the snapshot's summary to the file for the snapshot's UTC
// day, keeping only the newest entries when the day is full
func (h *HistoryStore) Append(snap *models.AggregateSnapshot) error {
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = h.now()
	}
	date := ts.UTC().Format(historyDateLayout)

	h.mu.Lock()
	defer h.mu.Unlock()

	day, err := h.readDay(date)
	if err != nil {
		// a corrupt day is replaced rather than blocking new history
		h.logger.Warn().Err(err).Str("date", date).Msg("resetting unreadable history file")
		day = nil
	}
	if day == nil {
		day = &models.HistoryDay{Date: date}
	}

	day.Entries = append(day.Entries, models.SummarizeSnapshot(snap))
	if over := len(day.Entries) - h.entriesPerDay; over > 0 {
		day.Entries = append([]models.HistorySummary(nil), day.Entries[over:]...)
	}

	if err := writeJSON(h.path(date), day); err != nil {
		return fmt.Errorf("append history %s: %w", date, err)
	}
	return nil
}

func (h *HistoryStore) readDay(date string) (*models.HistoryDay, error) {
	var day models.HistoryDay
	ok, err := readJSON(h.path(date), &day)
	if err != nil || !ok {
		return nil, err
	}
	if day.Date == "" {
		day.Date = date
	}
	return &day, nil
}

type dayEntry struct {
	date  string
	entry models.HistorySummary
}

// lastEntries returns the newest entry of each of the last days UTC days,
// oldest first. Missing and corrupt days are skipped.
func (h *HistoryStore) lastEntries(days int) []dayEntry {
	days = h.clampDays(days)
	today := h.now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]dayEntry, 0, days)
	for i := days - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i).Format(historyDateLayout)
		day, err := h.readDay(date)
		if err != nil {
			h.logger.Warn().Err(err).Str("date", date).Msg("skipping unreadable history file")
			continue
		}
		last, ok := day.Last()
		if !ok {
			continue
		}
		out = append(out, dayEntry{date: date, entry: last})
	}
	return out
}

// Timeline returns one point per stored day within the window
func (h *HistoryStore) Timeline(days int) []models.TimelinePoint {
	entries := h.lastEntries(days)
	points := make([]models.TimelinePoint, 0, len(entries))
	for _, e := range entries {
		points = append(points, models.TimelinePoint{
			Date:             e.date,
			Timestamp:        e.entry.Timestamp,
			TotalThreats:     e.entry.TotalThreats,
			BySource:         e.entry.BySource,
			ByType:           e.entry.ByType,
			BySeverity:       e.entry.BySeverity,
			AverageRiskScore: e.entry.AverageRiskScore,
		})
	}
	return points
}

// CountryTrends returns per-country counts for each stored day within the window
func (h *HistoryStore) CountryTrends(days int) []models.CountryTrendPoint {
	entries := h.lastEntries(days)
	points := make([]models.CountryTrendPoint, 0, len(entries))
	for _, e := range entries {
		byCountry := e.entry.ByCountry
		if byCountry == nil {
			byCountry = map[string]int{}
		}
		points = append(points, models.CountryTrendPoint{Date: e.date, ByCountry: byCountry})
	}
	return points
}

// MaxDays is the widest window Timeline and CountryTrends will read
func (h *HistoryStore) MaxDays() int {
	return h.maxDays
}

func (h *HistoryStore) clampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > h.maxDays {
		return h.maxDays
	}
	return days
}
