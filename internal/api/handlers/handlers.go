package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"threatpulse/internal/domain/models"
	"threatpulse/internal/domain/services"
	"threatpulse/internal/sources"
	"threatpulse/pkg/logger"
)

const maxBodyBytes = 1 << 20

// SnapshotService is the live snapshot owner
type SnapshotService interface {
	Current() *models.AggregateSnapshot
	Refresh(ctx context.Context) (services.RefreshResult, error)
}

// HistoryReader serves trend queries
type HistoryReader interface {
	Timeline(days int) []models.TimelinePoint
	CountryTrends(days int) []models.CountryTrendPoint
	MaxDays() int
}

// ListManager mutates the whitelist and blacklist
type ListManager interface {
	Lists() models.ThreatLists
	Size(name models.ListName) int
	Add(name models.ListName, indicator string) (bool, error)
	Remove(name models.ListName, indicator string) error
	Import(name models.ListName, indicators []string) (int, error)
}

// SourceStats describes the registered feed connectors
type SourceStats interface {
	Stats() sources.RegistryStats
}

// ReadinessCheck reports whether one dependency is usable
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers holds all API handlers
type Handlers struct {
	Health  *HealthHandler
	Threats *ThreatsHandler
	Lists   *ListsHandler
	Sources *SourcesHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Snapshots SnapshotService
	History   HistoryReader
	Lists     ListManager
	Registry  SourceStats
	Checks    []ReadinessCheck
	Version   string
	Logger    *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.Checks, deps.Logger),
		Threats: NewThreatsHandler(deps.Snapshots, deps.History, deps.Logger),
		Lists:   NewListsHandler(deps.Lists, validate, deps.Logger),
		Sources: NewSourcesHandler(deps.Registry, deps.Snapshots, deps.Logger),
	}
}

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}
