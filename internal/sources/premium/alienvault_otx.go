package premium

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"threatpulse/internal/domain/models"
	"threatpulse/internal/sources"
	"threatpulse/pkg/logger"
)

const (
	alienVaultOTXAPIURL = "https://otx.alienvault.com/api/v1"
	alienVaultOTXSlug   = "alienvault_otx"

	// OTX pulses carry no per-indicator score; community confidence is fixed
	otxConfidence    = 80.0
	otxDefaultLimit  = 100
	otxPulsesPerPage = 50
)

// AlienVaultOTXConnector fetches indicators from subscribed AlienVault OTX pulses
type AlienVaultOTXConnector struct {
	*sources.BaseConnector
	client *http.Client
	logger *logger.Logger
	apiKey string
	apiURL string
	now    func() time.Time
}

// NewAlienVaultOTXConnector creates a new AlienVault OTX connector
func NewAlienVaultOTXConnector(log *logger.Logger) *AlienVaultOTXConnector {
	return &AlienVaultOTXConnector{
		BaseConnector: sources.NewBaseConnector(alienVaultOTXSlug, "AlienVault OTX"),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: log.WithComponent("alienvault-otx"),
		apiURL: alienVaultOTXAPIURL,
		now:    time.Now,
	}
}

// Configure configures the connector with the given config
func (c *AlienVaultOTXConnector) Configure(cfg sources.ConnectorConfig) error {
	if err := c.BaseConnector.Configure(cfg); err != nil {
		return err
	}
	c.apiKey = cfg.APIKey
	if cfg.APIURL != "" {
		c.apiURL = strings.TrimSuffix(cfg.APIURL, "/")
	}
	c.client.Timeout = c.Config().Timeout
	return nil
}

// otxPulseResponse represents the pulse feed response
type otxPulseResponse struct {
	Results []otxPulse `json:"results"`
	Count   int        `json:"count"`
}

type otxPulse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Modified        string         `json:"modified"`
	Indicators      []otxIndicator `json:"indicators"`
	Tags            []string       `json:"tags"`
	TLP             string         `json:"tlp"`
	Adversary       string         `json:"adversary"`
	MalwareFamilies []any          `json:"malware_families"`
}

type otxIndicator struct {
	Indicator string `json:"indicator"`
	Type      string `json:"type"`
	Created   string `json:"created"`
	Role      string `json:"role"`
}

// Fetch retrieves indicators from pulses modified in the last seven days
func (c *AlienVaultOTXConnector) Fetch(ctx context.Context, limit int) (*models.FeedResult, error) {
	start := time.Now()
	result := sources.NewResult(c.Slug())

	if c.apiKey == "" {
		c.logger.Warn().Msg("AlienVault OTX API key not configured, skipping")
		return result, sources.NotConfigured(c.Slug())
	}

	limit = c.Limit(limit, otxDefaultLimit)

	pulses, err := c.fetchSubscribedPulses(ctx)
	if err != nil {
		return result, err
	}

	for _, pulse := range pulses {
		for _, ind := range pulse.Indicators {
			if len(result.Threats) >= limit {
				break
			}
			indType := models.ParseIndicatorType(ind.Type)
			if indType == models.IndicatorTypeUnknown {
				continue
			}

			lastSeen := ind.Created
			if lastSeen == "" {
				lastSeen = pulse.Modified
			}

			raw := map[string]any{
				"pulse_id": pulse.ID,
				"tlp":      pulse.TLP,
				"role":     ind.Role,
			}
			if pulse.Adversary != "" {
				raw[models.RawKeyAdversary] = pulse.Adversary
			}
			if family := firstFamily(pulse.MalwareFamilies); family != "" {
				raw[models.RawKeyMalware] = family
			}

			tags := append([]string(nil), pulse.Tags...)
			if ind.Role == "c2" {
				tags = append(tags, "c2")
			}

			result.Threats = append(result.Threats, models.RawThreatRecord{
				Indicator: ind.Indicator,
				Type:      indType,
				Score:     sources.Float(otxConfidence),
				Source:    c.Slug(),
				Tags:      tags,
				PulseName: pulse.Name,
				LastSeen:  lastSeen,
				Raw:       raw,
			})
		}
	}

	result.Count = len(result.Threats)
	result.Metrics["pulses"] = len(pulses)

	c.logger.Info().
		Int("pulses", len(pulses)).
		Int("threats", result.Count).
		Dur("duration", time.Since(start)).
		Msg("AlienVault OTX fetch completed")

	return result, nil
}

// fetchSubscribedPulses fetches pulses the account is subscribed to
func (c *AlienVaultOTXConnector) fetchSubscribedPulses(ctx context.Context) ([]otxPulse, error) {
	modifiedSince := c.now().AddDate(0, 0, -7).Format("2006-01-02")
	url := fmt.Sprintf("%s/pulses/subscribed?modified_since=%s&limit=%s",
		c.apiURL, modifiedSince, strconv.Itoa(otxPulsesPerPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("alienvault_otx: build request: %w", err)
	}

	req.Header.Set("X-OTX-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("modified_since", modifiedSince).Msg("fetching AlienVault OTX subscribed pulses")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alienvault_otx: request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := sources.CheckResponse(c.Slug(), resp); err != nil {
		return nil, err
	}

	var apiResp otxPulseResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("alienvault_otx: failed to parse response: %w", err)
	}

	return apiResp.Results, nil
}

// firstFamily extracts a display name from OTX's malware_families, which
// is either a list of strings or a list of objects with display_name
func firstFamily(families []any) string {
	for _, f := range families {
		switch v := f.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if name, ok := v["display_name"].(string); ok && name != "" {
				return name
			}
		}
	}
	return ""
}
