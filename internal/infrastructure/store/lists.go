package store

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"threatpulse/internal/domain/models"
	"threatpulse/internal/domain/services"
	"threatpulse/pkg/logger"
)

// ListStore holds the whitelist and blacklist, writing the touched list
// to disk after every change
type ListStore struct {
	dir    string
	logger *logger.Logger

	mu   sync.RWMutex
	sets map[models.ListName]map[string]struct{}
}

// NewListStore loads both lists from dataDir. Unreadable files start empty.
func NewListStore(dataDir string, log *logger.Logger) *ListStore {
	s := &ListStore{
		dir:    dataDir,
		logger: log.WithComponent("list-store"),
		sets: map[models.ListName]map[string]struct{}{
			models.ListWhitelist: {},
			models.ListBlacklist: {},
		},
	}
	for name := range s.sets {
		s.load(name)
	}
	return s
}

func (s *ListStore) path(name models.ListName) string {
	return filepath.Join(s.dir, string(name)+".json")
}

func (s *ListStore) load(name models.ListName) {
	var items []string
	ok, err := readJSON(s.path(name), &items)
	if err != nil {
		s.logger.Warn().Err(err).Str("list", string(name)).Msg("ignoring unreadable list file")
		return
	}
	if !ok {
		return
	}
	set := s.sets[name]
	for _, it := range items {
		if k := services.ListKey(it); k != "" {
			set[k] = struct{}{}
		}
	}
	s.logger.Debug().Str("list", string(name)).Int("size", len(set)).Msg("loaded list")
}

// Lists returns sorted copies of both lists
func (s *ListStore) Lists() models.ThreatLists {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.ThreatLists{
		Whitelist: sortedKeys(s.sets[models.ListWhitelist]),
		Blacklist: sortedKeys(s.sets[models.ListBlacklist]),
	}
}

// Size returns the number of entries on the list
func (s *ListStore) Size(name models.ListName) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets[name])
}

// Add inserts indicator and reports whether it was new. Adding an
// existing member changes nothing.
func (s *ListStore) Add(name models.ListName, indicator string) (bool, error) {
	n, err := s.Import(name, []string{indicator})
	return n == 1, err
}

// Import adds every indicator, returning how many were new
func (s *ListStore) Import(name models.ListName, indicators []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidList, name)
	}

	var added []string
	for _, it := range indicators {
		k := services.ListKey(it)
		if k == "" {
			continue
		}
		if _, exists := set[k]; exists {
			continue
		}
		set[k] = struct{}{}
		added = append(added, k)
	}
	if len(added) == 0 {
		return 0, nil
	}

	if err := s.persist(name); err != nil {
		for _, k := range added {
			delete(set, k)
		}
		return 0, err
	}
	s.logger.Info().Str("list", string(name)).Int("added", len(added)).Int("size", len(set)).Msg("list updated")
	return len(added), nil
}

// Remove deletes indicator; ErrNotFound when it is not a member
func (s *ListStore) Remove(name models.ListName, indicator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidList, name)
	}
	k := services.ListKey(indicator)
	if _, exists := set[k]; !exists {
		return fmt.Errorf("%s %q: %w", name, k, ErrNotFound)
	}

	delete(set, k)
	if err := s.persist(name); err != nil {
		set[k] = struct{}{}
		return err
	}
	s.logger.Info().Str("list", string(name)).Int("size", len(set)).Msg("list entry removed")
	return nil
}

// persist must be called with mu held
func (s *ListStore) persist(name models.ListName) error {
	return writeJSON(s.path(name), sortedKeys(s.sets[name]))
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
