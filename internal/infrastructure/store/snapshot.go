package store

import (
	"path/filepath"

	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

const snapshotFile = "latest_snapshot.json"

// SnapshotStore keeps the latest AggregateSnapshot on disk, including the
// per-source records needed for rate-limit fallback after a restart
type SnapshotStore struct {
	path   string
	logger *logger.Logger
}

// NewSnapshotStore creates a SnapshotStore under dataDir
func NewSnapshotStore(dataDir string, log *logger.Logger) *SnapshotStore {
	return &SnapshotStore{
		path:   filepath.Join(dataDir, snapshotFile),
		logger: log.WithComponent("snapshot-store"),
	}
}

// LoadSnapshot returns nil with no error when nothing has been saved yet
func (s *SnapshotStore) LoadSnapshot() (*models.AggregateSnapshot, error) {
	var snap models.AggregateSnapshot
	ok, err := readJSON(s.path, &snap)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("ignoring unreadable snapshot file")
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	fillSnapshotDefaults(&snap)
	return &snap, nil
}

// SaveSnapshot replaces the persisted snapshot
func (s *SnapshotStore) SaveSnapshot(snap *models.AggregateSnapshot) error {
	return writeJSON(s.path, snap)
}

// fillSnapshotDefaults restores allocated collections that older or
// hand-edited files may omit
func fillSnapshotDefaults(s *models.AggregateSnapshot) {
	def := models.NewEmptySnapshot(s.Timestamp)
	if s.Sources == nil {
		s.Sources = def.Sources
	}
	if s.ByType == nil {
		s.ByType = def.ByType
	}
	if s.ByCountry == nil {
		s.ByCountry = def.ByCountry
	}
	if s.BySeverity == nil {
		s.BySeverity = def.BySeverity
	}
	if s.TopThreats == nil {
		s.TopThreats = def.TopThreats
	}
	if s.Correlations == nil {
		s.Correlations = def.Correlations
	}
	if s.Velocity.HourlyDistribution == nil {
		s.Velocity.HourlyDistribution = def.Velocity.HourlyDistribution
	}
	if s.Velocity.Trend == "" {
		s.Velocity.Trend = models.TrendStable
	}
	if s.Status == "" {
		s.Status = models.SnapshotStatusEmpty
		if s.TotalThreats > 0 {
			s.Status = models.SnapshotStatusOK
		}
	}
}
