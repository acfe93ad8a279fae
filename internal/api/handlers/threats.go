package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"threatpulse/internal/domain/services"
	"threatpulse/pkg/logger"
)

const defaultTrendDays = 7

// ThreatsHandler serves the snapshot, refresh, and history endpoints
type ThreatsHandler struct {
	snapshots SnapshotService
	history   HistoryReader
	logger    *logger.Logger
}

// NewThreatsHandler creates a new ThreatsHandler
func NewThreatsHandler(s SnapshotService, h HistoryReader, log *logger.Logger) *ThreatsHandler {
	return &ThreatsHandler{
		snapshots: s,
		history:   h,
		logger:    log.WithComponent("threats"),
	}
}

// Current handles GET /api/v1/threats
func (h *ThreatsHandler) Current(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.snapshots.Current().Public())
}

// Refresh handles POST /api/v1/threats/refresh. It always answers within
// the refresh timeout.
func (h *ThreatsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.snapshots.Refresh(r.Context())
	switch {
	case errors.Is(err, services.ErrDistributorStopped):
		respondError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	case err != nil:
		// the caller went away; the cycle keeps running
		h.logger.Debug().Err(err).Msg("refresh request cancelled")
		return
	}

	res.Snapshot = res.Snapshot.Public()
	status := http.StatusOK
	if res.TimedOut {
		status = http.StatusAccepted
	}
	respondJSON(w, status, res)
}

// Timeline handles GET /api/v1/threats/timeline?days=N
func (h *ThreatsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	days, ok := h.parseDays(w, r)
	if !ok {
		return
	}
	points := h.history.Timeline(days)
	respondJSON(w, http.StatusOK, map[string]any{
		"days":     days,
		"timeline": points,
	})
}

// CountryTrends handles GET /api/v1/threats/country-trends?days=N
func (h *ThreatsHandler) CountryTrends(w http.ResponseWriter, r *http.Request) {
	days, ok := h.parseDays(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"days":   days,
		"trends": h.history.CountryTrends(days),
	})
}

// parseDays reads ?days, clamped to [1, MaxDays]
func (h *ThreatsHandler) parseDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	days := defaultTrendDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "days must be an integer")
			return 0, false
		}
		days = n
	}
	if days < 1 {
		days = 1
	}
	if limit := h.history.MaxDays(); limit > 0 && days > limit {
		days = limit
	}
	return days, true
}
