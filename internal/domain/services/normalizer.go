package services

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

var tagCleaner = regexp.MustCompile(`[^a-z0-9._-]`)

// Normalizer canonicalizes raw feed records and drops the ones that fail validation
type Normalizer struct {
	validator *Validator
	logger    *logger.Logger
}

// NewNormalizer creates a new Normalizer
func NewNormalizer(v *Validator, log *logger.Logger) *Normalizer {
	if v == nil {
		v = NewValidator()
	}
	return &Normalizer{
		validator: v,
		logger:    log.WithComponent("normalizer"),
	}
}

// Normalize maps a raw record into the shared ThreatRecord schema
func (n *Normalizer) Normalize(raw models.RawThreatRecord) (models.ThreatRecord, error) {
	trimmed := strings.TrimSpace(raw.Indicator)
	if trimmed == "" {
		return models.ThreatRecord{}, ErrEmptyIndicator
	}
	if len(trimmed) > MaxIndicatorLength {
		return models.ThreatRecord{}, ErrIndicatorTooLong
	}

	iocType := raw.Type
	if iocType == "" || iocType == models.IndicatorTypeUnknown {
		iocType = InferType(trimmed)
	}
	value := n.normalizeValue(trimmed, iocType)
	if err := n.validator.Validate(value, iocType); err != nil {
		return models.ThreatRecord{}, err
	}

	rec := models.ThreatRecord{
		Indicator: value,
		Type:      iocType,
		Score:     normalizeScore(raw.Score),
		Country:   normalizeCountry(raw.Country),
		Tags:      normalizeTags(raw.Tags),
		PulseName: strings.TrimSpace(raw.PulseName),
		LastSeen:  strings.TrimSpace(raw.LastSeen),
		Raw:       copyRaw(raw.Raw),
	}
	if raw.Source != "" {
		rec.Sources = []string{raw.Source}
	} else {
		rec.Sources = []string{}
	}
	return rec, nil
}

// NormalizeBatch normalizes raws, returning the survivors and how many were dropped
func (n *Normalizer) NormalizeBatch(raws []models.RawThreatRecord) ([]models.ThreatRecord, int) {
	out := make([]models.ThreatRecord, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		rec, err := n.Normalize(raw)
		if err != nil {
			dropped++
			n.logger.Debug().
				Err(err).
				Str("source", raw.Source).
				Str("type", raw.Type.String()).
				Int("length", len(raw.Indicator)).
				Msg("dropped invalid record")
			continue
		}
		out = append(out, rec)
	}
	return out, dropped
}

// normalizeValue normalizes the indicator value based on its type
func (n *Normalizer) normalizeValue(value string, iocType models.IndicatorType) string {
	switch {
	case iocType.IsIP():
		return normalizeIP(value)
	case iocType == models.IndicatorTypeDomain || iocType == models.IndicatorTypeHost:
		return normalizeDomain(value)
	case iocType == models.IndicatorTypeURL:
		return normalizeURL(value)
	case iocType.IsHash():
		return normalizeHash(value)
	default:
		return value
	}
}

// normalizeIP strips an optional port and returns the canonical form
func normalizeIP(ip string) string {
	if parsed := net.ParseIP(ip); parsed != nil {
		return parsed.String()
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	ip = strings.TrimSuffix(strings.TrimPrefix(ip, "["), "]")
	if parsed := net.ParseIP(ip); parsed != nil {
		return parsed.String()
	}
	return ip
}

// normalizeDomain removes scheme, path, port and trailing dot
func normalizeDomain(domain string) string {
	lower := strings.ToLower(domain)
	lower = strings.TrimPrefix(lower, "http://")
	lower = strings.TrimPrefix(lower, "https://")
	if idx := strings.IndexAny(lower, "/?#"); idx != -1 {
		lower = lower[:idx]
	}
	if idx := strings.LastIndex(lower, ":"); idx != -1 {
		lower = lower[:idx]
	}
	return strings.TrimSuffix(lower, ".")
}

// normalizeURL lowercases scheme and host, adding http:// when missing
func normalizeURL(rawURL string) string {
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		rawURL = "http://" + rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	return parsed.String()
}

// normalizeHash lowercases and strips separators
func normalizeHash(hash string) string {
	hash = strings.ReplaceAll(hash, " ", "")
	hash = strings.ReplaceAll(hash, "-", "")
	return strings.ToLower(hash)
}

func normalizeScore(score *float64) *float64 {
	if score == nil {
		return nil
	}
	v := clamp(*score, 0, 100)
	return &v
}

func normalizeCountry(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if len(c) != 2 {
		return ""
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return c
}

// normalizeTags lowercases and deduplicates tags, preserving order
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	normalized := make([]string, 0, len(tags))

	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		tag = strings.ReplaceAll(tag, " ", "-")
		tag = tagCleaner.ReplaceAllString(tag, "")
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		normalized = append(normalized, tag)
	}

	return normalized
}

func copyRaw(raw map[string]any) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
