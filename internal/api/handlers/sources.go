package handlers

import (
	"net/http"

	"threatpulse/internal/domain/models"
	"threatpulse/internal/sources"
	"threatpulse/pkg/logger"
)

// SourcesHandler handles source endpoints
type SourcesHandler struct {
	registry  SourceStats
	snapshots SnapshotService
	logger    *logger.Logger
}

// NewSourcesHandler creates a new SourcesHandler
func NewSourcesHandler(reg SourceStats, s SnapshotService, log *logger.Logger) *SourcesHandler {
	return &SourcesHandler{
		registry:  reg,
		snapshots: s,
		logger:    log.WithComponent("sources"),
	}
}

// sourceView joins a registered connector with its last cycle outcome
type sourceView struct {
	sources.ConnectorInfo
	LastStatus *models.SourceStatus `json:"last_status,omitempty"`
}

// List handles GET /api/v1/sources
func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Stats()
	snap := h.snapshots.Current()

	views := make([]sourceView, 0, len(stats.Connectors))
	for _, info := range stats.Connectors {
		v := sourceView{ConnectorInfo: info}
		if st, ok := snap.Sources[info.Slug]; ok {
			st.Threats = nil
			v.LastStatus = &st
		}
		views = append(views, v)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":               views,
		"total":              stats.TotalConnectors,
		"enabled":            stats.EnabledConnectors,
		"snapshot_id":        snap.ID,
		"snapshot_timestamp": snap.Timestamp,
	})
}
