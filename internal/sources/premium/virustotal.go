package premium

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"threatpulse/internal/domain/models"
	"threatpulse/internal/sources"
	"threatpulse/pkg/logger"
)

const (
	virusTotalAPIURL = "https://www.virustotal.com/api/v3"
	virusTotalSlug   = "virustotal"

	vtDefaultLimit  = 40
	vtMinDetections = 5
	vtSearchQuery   = "p:5+ type:file"
)

// VirusTotalConnector cross-checks recent malicious files on VirusTotal.
// Free API keys are limited to 4 requests per minute.
type VirusTotalConnector struct {
	*sources.BaseConnector
	client *http.Client
	logger *logger.Logger
	apiKey string
	apiURL string
}

// NewVirusTotalConnector creates a new VirusTotal connector
func NewVirusTotalConnector(log *logger.Logger) *VirusTotalConnector {
	return &VirusTotalConnector{
		BaseConnector: sources.NewBaseConnector(virusTotalSlug, "VirusTotal"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: log.WithComponent("virustotal"),
		apiURL: virusTotalAPIURL,
	}
}

// Configure configures the connector with the given config
func (c *VirusTotalConnector) Configure(cfg sources.ConnectorConfig) error {
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

// vtFileFeedResponse represents file search response
type vtFileFeedResponse struct {
	Data []vtFileEntry `json:"data"`
}

type vtFileEntry struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Attributes vtFileAttributes `json:"attributes"`
}

type vtFileAttributes struct {
	SHA256                      string          `json:"sha256"`
	MeaningfulName              string          `json:"meaningful_name"`
	TypeDescription             string          `json:"type_description"`
	LastAnalysisDate            int64           `json:"last_analysis_date"`
	LastAnalysisStats           vtAnalysisStats `json:"last_analysis_stats"`
	PopularThreatClassification vtThreatClass   `json:"popular_threat_classification"`
	Tags                        []string        `json:"tags"`
}

type vtAnalysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
	Harmless   int `json:"harmless"`
}

func (s vtAnalysisStats) total() int {
	return s.Malicious + s.Suspicious + s.Undetected + s.Harmless
}

type vtThreatClass struct {
	SuggestedThreatLabel  string             `json:"suggested_threat_label"`
	PopularThreatCategory []vtThreatCategory `json:"popular_threat_category"`
}

type vtThreatCategory struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Fetch retrieves recently analyzed files with enough engine detections
func (c *VirusTotalConnector) Fetch(ctx context.Context, limit int) (*models.FeedResult, error) {
	start := time.Now()
	result := sources.NewResult(c.Slug())

	if c.apiKey == "" {
		c.logger.Warn().Msg("VirusTotal API key not configured, skipping")
		return result, sources.NotConfigured(c.Slug())
	}

	limit = c.Limit(limit, vtDefaultLimit)

	files, err := c.searchFiles(ctx, limit)
	if err != nil {
		return result, err
	}

	for _, file := range files {
		attrs := file.Attributes
		stats := attrs.LastAnalysisStats
		if attrs.SHA256 == "" || stats.Malicious < vtMinDetections {
			continue
		}
		if len(result.Threats) >= limit {
			break
		}

		total := stats.total()
		ratio := 0.0
		if total > 0 {
			ratio = float64(stats.Malicious) / float64(total)
		}

		tags := append([]string(nil), attrs.Tags...)
		for _, cat := range attrs.PopularThreatClassification.PopularThreatCategory {
			tags = append(tags, cat.Value)
		}

		lastSeen := ""
		if attrs.LastAnalysisDate > 0 {
			lastSeen = time.Unix(attrs.LastAnalysisDate, 0).UTC().Format(time.RFC3339)
		}

		raw := map[string]any{
			models.RawKeyMalicious:  stats.Malicious,
			models.RawKeySuspicious: stats.Suspicious,
			"total_engines":         total,
			"file_name":             attrs.MeaningfulName,
			"file_type":             attrs.TypeDescription,
		}
		if label := attrs.PopularThreatClassification.SuggestedThreatLabel; label != "" {
			raw[models.RawKeyMalware] = label
		}

		result.Threats = append(result.Threats, models.RawThreatRecord{
			Indicator: strings.ToLower(attrs.SHA256),
			Type:      models.IndicatorTypeSHA256,
			Score:     sources.Float(ratio * 100),
			Source:    c.Slug(),
			Tags:      tags,
			LastSeen:  lastSeen,
			Raw:       raw,
		})
	}

	result.Count = len(result.Threats)
	result.Metrics["files"] = len(files)
	result.Metrics["min_detections"] = vtMinDetections

	c.logger.Info().
		Int("files", len(files)).
		Int("threats", result.Count).
		Dur("duration", time.Since(start)).
		Msg("VirusTotal fetch completed")

	return result, nil
}

func (c *VirusTotalConnector) searchFiles(ctx context.Context, limit int) ([]vtFileEntry, error) {
	q := url.Values{}
	q.Set("query", vtSearchQuery)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/intelligence/search?%s", c.apiURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("virustotal: build request: %w", err)
	}

	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("virustotal: request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := sources.CheckResponse(c.Slug(), resp); err != nil {
		return nil, err
	}

	var apiResp vtFileFeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("virustotal: failed to parse response: %w", err)
	}
	return apiResp.Data, nil
}
