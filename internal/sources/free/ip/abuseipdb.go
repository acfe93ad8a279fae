package ip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"threatpulse/internal/domain/models"
	"threatpulse/internal/sources"
	"threatpulse/pkg/logger"
)

const (
	abuseIPDBAPIURL = "https://api.abuseipdb.com/api/v2/blacklist"
	abuseIPDBSlug   = "abuseipdb"

	defaultConfidenceMinimum = 90
	defaultLimit             = 100
)

// AbuseIPDBConnector fetches malicious IPs from AbuseIPDB
type AbuseIPDBConnector struct {
	*sources.BaseConnector
	client *http.Client
	logger *logger.Logger
	apiKey string
	apiURL string
}

// NewAbuseIPDBConnector creates a new AbuseIPDB connector
func NewAbuseIPDBConnector(log *logger.Logger) *AbuseIPDBConnector {
	return &AbuseIPDBConnector{
		BaseConnector: sources.NewBaseConnector(abuseIPDBSlug, "AbuseIPDB"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: log.WithComponent("abuseipdb"),
		apiURL: abuseIPDBAPIURL,
	}
}

// Configure configures the connector with the given config
func (c *AbuseIPDBConnector) Configure(cfg sources.ConnectorConfig) error {
	if err := c.BaseConnector.Configure(cfg); err != nil {
		return err
	}
	c.apiKey = cfg.APIKey
	if cfg.APIURL != "" {
		c.apiURL = cfg.APIURL
	}
	c.client.Timeout = c.Config().Timeout
	return nil
}

// abuseIPDBResponse represents the API response
type abuseIPDBResponse struct {
	Data []abuseIPDBEntry `json:"data"`
}

type abuseIPDBEntry struct {
	IPAddress            string `json:"ipAddress"`
	AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
	CountryCode          string `json:"countryCode"`
	LastReportedAt       string `json:"lastReportedAt"`
}

// Fetch retrieves the highest-confidence entries of the AbuseIPDB blacklist
func (c *AbuseIPDBConnector) Fetch(ctx context.Context, limit int) (*models.FeedResult, error) {
	start := time.Now()
	result := sources.NewResult(c.Slug())

	if c.apiKey == "" {
		c.logger.Warn().Msg("AbuseIPDB API key not configured, skipping")
		return result, sources.NotConfigured(c.Slug())
	}

	limit = c.Limit(limit, defaultLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return result, fmt.Errorf("abuseipdb: build request: %w", err)
	}

	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	q := req.URL.Query()
	q.Set("confidenceMinimum", strconv.Itoa(defaultConfidenceMinimum))
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()

	c.logger.Info().Int("limit", limit).Msg("fetching AbuseIPDB blacklist")

	resp, err := c.client.Do(req)
	if err != nil {
		return result, fmt.Errorf("abuseipdb: request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := sources.CheckResponse(c.Slug(), resp); err != nil {
		return result, err
	}

	var apiResp abuseIPDBResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return result, fmt.Errorf("abuseipdb: failed to parse response: %w", err)
	}

	for _, entry := range apiResp.Data {
		if entry.IPAddress == "" {
			continue
		}
		if len(result.Threats) >= limit {
			break
		}

		result.Threats = append(result.Threats, models.RawThreatRecord{
			Indicator: entry.IPAddress,
			Type:      models.IndicatorTypeIP,
			Score:     sources.Float(float64(entry.AbuseConfidenceScore)),
			Source:    c.Slug(),
			LastSeen:  entry.LastReportedAt,
			Raw: map[string]any{
				models.RawKeyCountryCode: entry.CountryCode,
				"abuse_confidence_score": entry.AbuseConfidenceScore,
				"last_reported_at":       entry.LastReportedAt,
			},
		})
	}

	result.Count = len(result.Threats)
	result.Metrics["entries"] = len(apiResp.Data)
	result.Metrics["confidence_minimum"] = defaultConfidenceMinimum

	c.logger.Info().
		Int("entries", len(apiResp.Data)).
		Int("threats", result.Count).
		Dur("duration", time.Since(start)).
		Msg("AbuseIPDB fetch completed")

	return result, nil
}
