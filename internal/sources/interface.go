package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"threatpulse/internal/domain/models"
)

// Feed failure taxonomy
var (
	// ErrNotConfigured is returned when a feed lacks its credential
	ErrNotConfigured = errors.New("source not configured")
	// ErrRateLimited is returned when a feed answers HTTP 429
	ErrRateLimited = errors.New("source rate limited")
)

// Connector defines the interface for threat feed connectors
type Connector interface {
	// Slug returns the unique identifier for this source
	Slug() string

	// Name returns the human-readable name of this source
	Name() string

	// IsEnabled returns whether this source is enabled
	IsEnabled() bool

	// Configure configures the connector with the given config
	Configure(cfg ConnectorConfig) error

	// Fetch retrieves at most limit records from the source
	Fetch(ctx context.Context, limit int) (*models.FeedResult, error)
}

// ConnectorConfig holds configuration for a connector
type ConnectorConfig struct {
	Enabled bool          `json:"enabled"`
	APIURL  string        `json:"api_url,omitempty"`
	APIKey  string        `json:"api_key,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
	Limit   int           `json:"limit,omitempty"`
}

// DefaultConfig returns default connector configuration
func DefaultConfig() ConnectorConfig {
	return ConnectorConfig{
		Enabled: true,
		Timeout: 30 * time.Second,
	}
}

// BaseConnector provides common functionality for connectors
type BaseConnector struct {
	slug   string
	name   string
	config ConnectorConfig
}

// NewBaseConnector creates a new base connector
func NewBaseConnector(slug, name string) *BaseConnector {
	return &BaseConnector{
		slug:   slug,
		name:   name,
		config: DefaultConfig(),
	}
}

// Slug returns the unique identifier for this source
func (c *BaseConnector) Slug() string {
	return c.slug
}

// Name returns the human-readable name of this source
func (c *BaseConnector) Name() string {
	return c.name
}

// IsEnabled returns whether this source is enabled
func (c *BaseConnector) IsEnabled() bool {
	return c.config.Enabled
}

// Configure configures the connector
func (c *BaseConnector) Configure(cfg ConnectorConfig) error {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	c.config = cfg
	return nil
}

// Config returns the current configuration
func (c *BaseConnector) Config() ConnectorConfig {
	return c.config
}

// Limit picks the effective record cap for a fetch
func (c *BaseConnector) Limit(requested, fallback int) int {
	switch {
	case c.config.Limit > 0 && (requested <= 0 || c.config.Limit < requested):
		return c.config.Limit
	case requested > 0:
		return requested
	default:
		return fallback
	}
}

// NotConfigured wraps ErrNotConfigured with the feed slug
func NotConfigured(slug string) error {
	return fmt.Errorf("%s: %w: missing API key", slug, ErrNotConfigured)
}

// CheckResponse maps a non-200 response onto the feed error taxonomy
func CheckResponse(slug string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", slug, ErrRateLimited)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		body := readExcerpt(resp.Body)
		return fmt.Errorf("%s: unauthorized (status %d): %s", slug, resp.StatusCode, body)
	}
	body := readExcerpt(resp.Body)
	return fmt.Errorf("%s: unexpected status %d: %s", slug, resp.StatusCode, body)
}

func readExcerpt(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}

// NewResult creates an empty FeedResult stamped with the current time
func NewResult(slug string) *models.FeedResult {
	return &models.FeedResult{
		Source:    slug,
		Timestamp: time.Now().UTC(),
		Threats:   make([]models.RawThreatRecord, 0),
		Metrics:   make(map[string]any),
	}
}

// Float returns a pointer to v for optional scores
func Float(v float64) *float64 {
	return &v
}
