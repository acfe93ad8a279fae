package sources

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"threatpulse/internal/config"
	"threatpulse/pkg/logger"
)

// Registry manages all source connectors
type Registry struct {
	connectors map[string]Connector
	mu         sync.RWMutex
	logger     *logger.Logger
}

// NewRegistry creates a new connector registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		logger:     log.WithComponent("source-registry"),
	}
}

// Register registers a connector
func (r *Registry) Register(connector Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slug := connector.Slug()
	if _, exists := r.connectors[slug]; exists {
		return fmt.Errorf("connector already registered: %s", slug)
	}

	r.connectors[slug] = connector
	r.logger.Info().
		Str("slug", slug).
		Str("name", connector.Name()).
		Msg("registered connector")

	return nil
}

// Get returns a connector by slug
func (r *Registry) Get(slug string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connectors[slug]
	return conn, ok
}

// List returns all registered connectors ordered by slug
func (r *Registry) List() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connector, 0, len(r.connectors))
	for _, conn := range r.connectors {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].Slug() < conns[j].Slug() })
	return conns
}

// ListEnabled returns all enabled connectors ordered by slug
func (r *Registry) ListEnabled() []Connector {
	all := r.List()
	conns := make([]Connector, 0, len(all))
	for _, conn := range all {
		if conn.IsEnabled() {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Count returns the number of registered connectors
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}

// CountEnabled returns the number of enabled connectors
func (r *Registry) CountEnabled() int {
	return len(r.ListEnabled())
}

// Configure configures a connector by slug
func (r *Registry) Configure(slug string, cfg ConnectorConfig) error {
	conn, ok := r.Get(slug)
	if !ok {
		return fmt.Errorf("connector not found: %s", slug)
	}
	return conn.Configure(cfg)
}

// ConfigureFromSourcesConfig applies configuration from config file
func (r *Registry) ConfigureFromSourcesConfig(cfg config.SourcesConfig, timeout time.Duration) {
	for slug, srcCfg := range cfg.BySlug() {
		connCfg := ConnectorConfig{
			Enabled: srcCfg.Enabled,
			APIURL:  srcCfg.APIURL,
			APIKey:  srcCfg.APIKey,
			Limit:   srcCfg.Limit,
			Timeout: timeout,
		}

		if err := r.Configure(slug, connCfg); err != nil {
			r.logger.Debug().Str("slug", slug).Msg("connector not registered, skipping config")
		} else {
			r.logger.Debug().Str("slug", slug).Bool("enabled", srcCfg.Enabled).Bool("has_key", srcCfg.APIKey != "").Msg("configured connector")
		}
	}
}

// ConnectorInfo describes one registered connector
type ConnectorInfo struct {
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// RegistryStats holds registry statistics
type RegistryStats struct {
	TotalConnectors   int             `json:"total_connectors"`
	EnabledConnectors int             `json:"enabled_connectors"`
	Connectors        []ConnectorInfo `json:"connectors"`
}

// Stats returns registry statistics
func (r *Registry) Stats() RegistryStats {
	conns := r.List()
	stats := RegistryStats{
		TotalConnectors: len(conns),
		Connectors:      make([]ConnectorInfo, 0, len(conns)),
	}

	for _, conn := range conns {
		if conn.IsEnabled() {
			stats.EnabledConnectors++
		}
		stats.Connectors = append(stats.Connectors, ConnectorInfo{
			Slug:    conn.Slug(),
			Name:    conn.Name(),
			Enabled: conn.IsEnabled(),
		})
	}

	return stats
}
