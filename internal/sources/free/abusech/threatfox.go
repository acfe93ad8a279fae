package abusech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"threatpulse/internal/domain/models"
	"threatpulse/internal/sources"
	"threatpulse/pkg/logger"
)

const (
	threatFoxAPIURL       = "https://threatfox-api.abuse.ch/api/v1/"
	threatFoxSlug         = "threatfox"
	threatFoxDefaultLimit = 100
	threatFoxDays         = 1
)

// ThreatFoxConnector implements the source connector for ThreatFox.
// The auth key is optional; anonymous queries are accepted at a lower quota.
type ThreatFoxConnector struct {
	*sources.BaseConnector
	client *http.Client
	logger *logger.Logger
	apiKey string
	apiURL string
}

// NewThreatFoxConnector creates a new ThreatFox connector
func NewThreatFoxConnector(log *logger.Logger) *ThreatFoxConnector {
	return &ThreatFoxConnector{
		BaseConnector: sources.NewBaseConnector(threatFoxSlug, "ThreatFox"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: log.WithComponent("threatfox"),
		apiURL: threatFoxAPIURL,
	}
}

// Configure configures the connector with the given config
func (c *ThreatFoxConnector) Configure(cfg sources.ConnectorConfig) error {
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

// Fetch retrieves IOCs reported during the last day
func (c *ThreatFoxConnector) Fetch(ctx context.Context, limit int) (*models.FeedResult, error) {
	start := time.Now()
	result := sources.NewResult(c.Slug())
	limit = c.Limit(limit, threatFoxDefaultLimit)

	iocs, err := c.fetchRecentIOCs(ctx, threatFoxDays)
	if err != nil {
		return result, err
	}

	for _, ioc := range iocs {
		if len(result.Threats) >= limit {
			break
		}
		result.Threats = append(result.Threats, toRecord(ioc))
	}

	result.Count = len(result.Threats)
	result.Metrics["iocs"] = len(iocs)
	result.Metrics["days"] = threatFoxDays

	c.logger.Info().
		Int("iocs", len(iocs)).
		Int("threats", result.Count).
		Dur("duration", time.Since(start)).
		Msg("ThreatFox fetch completed")

	return result, nil
}

// fetchRecentIOCs fetches IOCs from the last N days
func (c *ThreatFoxConnector) fetchRecentIOCs(ctx context.Context, days int) ([]threatFoxIOC, error) {
	payload := map[string]any{
		"query": "get_iocs",
		"days":  days,
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("threatfox: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("threatfox: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Auth-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("threatfox: request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := sources.CheckResponse(c.Slug(), resp); err != nil {
		return nil, err
	}

	var apiResp threatFoxResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("threatfox: failed to parse response: %w", err)
	}

	switch apiResp.QueryStatus {
	case "ok":
		return apiResp.Data, nil
	case "no_result":
		return nil, nil
	default:
		return nil, fmt.Errorf("threatfox: query failed: %s", apiResp.QueryStatus)
	}
}

func toRecord(ioc threatFoxIOC) models.RawThreatRecord {
	lastSeen := ioc.LastSeen
	if lastSeen == "" {
		lastSeen = ioc.FirstSeen
	}

	raw := map[string]any{
		"id":               ioc.ID,
		"threat_type":      ioc.ThreatType,
		"confidence_level": ioc.ConfidenceLevel,
		"reporter":         ioc.Reporter,
	}
	if ioc.MalwarePrintable != "" {
		raw[models.RawKeyMalware] = ioc.MalwarePrintable
	}

	return models.RawThreatRecord{
		Indicator: ioc.IOC,
		Type:      models.ParseIndicatorType(ioc.IOCType),
		Score:     sources.Float(float64(ioc.ConfidenceLevel)),
		Source:    threatFoxSlug,
		Tags:      buildTags(ioc),
		LastSeen:  lastSeen,
		Raw:       raw,
	}
}

// buildTags creates tags from the IOC data
func buildTags(ioc threatFoxIOC) []string {
	tags := append([]string(nil), ioc.Tags...)

	if ioc.MalwarePrintable != "" && !strings.EqualFold(ioc.MalwarePrintable, "unknown malware") {
		tags = append(tags, strings.ToLower(ioc.MalwarePrintable))
	}

	switch strings.ToLower(ioc.ThreatType) {
	case "botnet_cc":
		tags = append(tags, "botnet", "c2")
	case "c2":
		tags = append(tags, "c2")
	case "payload_delivery":
		tags = append(tags, "malware")
	}

	return tags
}

// ThreatFox API response structures
type threatFoxResponse struct {
	QueryStatus string         `json:"query_status"`
	Data        []threatFoxIOC `json:"data"`
}

type threatFoxIOC struct {
	ID               string   `json:"id"`
	IOC              string   `json:"ioc"`
	IOCType          string   `json:"ioc_type"`
	ThreatType       string   `json:"threat_type"`
	MalwarePrintable string   `json:"malware_printable"`
	ConfidenceLevel  int      `json:"confidence_level"`
	FirstSeen        string   `json:"first_seen"`
	LastSeen         string   `json:"last_seen"`
	Reporter         string   `json:"reporter"`
	Tags             []string `json:"tags"`
}
