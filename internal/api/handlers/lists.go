package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"threatpulse/internal/domain/models"
	"threatpulse/internal/infrastructure/store"
	"threatpulse/internal/metrics"
	"threatpulse/pkg/logger"
)

// ListsHandler serves whitelist and blacklist mutations
type ListsHandler struct {
	lists    ListManager
	validate *validator.Validate
	logger   *logger.Logger
}

// NewListsHandler creates a new ListsHandler
func NewListsHandler(lists ListManager, v *validator.Validate, log *logger.Logger) *ListsHandler {
	return &ListsHandler{
		lists:    lists,
		validate: v,
		logger:   log.WithComponent("lists"),
	}
}

// Get handles GET /api/v1/lists
func (h *ListsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.lists.Lists())
}

// Add handles POST /api/v1/lists/{list}
func (h *ListsHandler) Add(w http.ResponseWriter, r *http.Request) {
	name, ok := listParam(w, r)
	if !ok {
		return
	}

	var req models.ListAddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "indicator is required and must be at most 500 characters")
		return
	}

	added, err := h.lists.Add(name, req.Indicator)
	if err != nil {
		h.fail(w, err, name, "add")
		return
	}

	status := http.StatusOK
	res := models.ListMutationResult{List: name, Indicator: req.Indicator, Size: h.lists.Size(name)}
	if added {
		status = http.StatusCreated
		res.Added = 1
		metrics.ListMutations.WithLabelValues(string(name), "add").Inc()
	} else {
		res.Skipped = 1
	}
	respondJSON(w, status, res)
}

// Remove handles DELETE /api/v1/lists/{list}/{indicator}
func (h *ListsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	name, ok := listParam(w, r)
	if !ok {
		return
	}
	indicator, err := url.PathUnescape(chi.URLParam(r, "indicator"))
	if err != nil || indicator == "" {
		respondError(w, http.StatusBadRequest, "invalid indicator")
		return
	}

	if err := h.lists.Remove(name, indicator); err != nil {
		h.fail(w, err, name, "remove")
		return
	}
	metrics.ListMutations.WithLabelValues(string(name), "remove").Inc()
	respondJSON(w, http.StatusOK, models.ListMutationResult{
		List:      name,
		Indicator: indicator,
		Size:      h.lists.Size(name),
	})
}

// Import handles POST /api/v1/lists/{list}/import
func (h *ListsHandler) Import(w http.ResponseWriter, r *http.Request) {
	name, ok := listParam(w, r)
	if !ok {
		return
	}

	var req models.ListImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "indicators must hold 1 to 1000 non-empty entries of at most 500 characters")
		return
	}

	added, err := h.lists.Import(name, req.Indicators)
	if err != nil {
		h.fail(w, err, name, "import")
		return
	}
	if added > 0 {
		metrics.ListMutations.WithLabelValues(string(name), "import").Inc()
	}
	respondJSON(w, http.StatusOK, models.ListMutationResult{
		List:    name,
		Added:   added,
		Skipped: len(req.Indicators) - added,
		Size:    h.lists.Size(name),
	})
}

func (h *ListsHandler) fail(w http.ResponseWriter, err error, name models.ListName, op string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "indicator not found in "+string(name))
	case errors.Is(err, store.ErrInvalidList):
		respondError(w, http.StatusNotFound, "unknown list")
	default:
		h.logger.Error().Err(err).Str("list", string(name)).Str("op", op).Msg("list mutation failed")
		respondError(w, http.StatusInternalServerError, "failed to update list")
	}
}

func listParam(w http.ResponseWriter, r *http.Request) (models.ListName, bool) {
	name, ok := models.ParseListName(chi.URLParam(r, "list"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown list")
		return "", false
	}
	return name, true
}
