package models

import "time"

// IndicatorType represents the type of threat indicator
type IndicatorType string

const (
	IndicatorTypeIP      IndicatorType = "ip"
	IndicatorTypeIPv4    IndicatorType = "ipv4"
	IndicatorTypeIPv6    IndicatorType = "ipv6"
	IndicatorTypeDomain  IndicatorType = "domain"
	IndicatorTypeHost    IndicatorType = "hostname"
	IndicatorTypeURL     IndicatorType = "url"
	IndicatorTypeMD5     IndicatorType = "filehash-md5"
	IndicatorTypeSHA1    IndicatorType = "filehash-sha1"
	IndicatorTypeSHA256  IndicatorType = "filehash-sha256"
	IndicatorTypeUnknown IndicatorType = "unknown"
)

// String returns the string representation of IndicatorType
func (t IndicatorType) String() string {
	return string(t)
}

// IsIP reports whether the type belongs to the IP family
func (t IndicatorType) IsIP() bool {
	return t == IndicatorTypeIP || t == IndicatorTypeIPv4 || t == IndicatorTypeIPv6
}

// IsHash reports whether the type is a file hash
func (t IndicatorType) IsHash() bool {
	return t == IndicatorTypeMD5 || t == IndicatorTypeSHA1 || t == IndicatorTypeSHA256
}

// IsNetworkName reports whether the type carries a DNS name
func (t IndicatorType) IsNetworkName() bool {
	return t == IndicatorTypeDomain || t == IndicatorTypeHost || t == IndicatorTypeURL
}

// ParseIndicatorType maps feed spellings onto an IndicatorType.
// Empty input yields "" so callers can tell "undeclared" from "unknown".
func ParseIndicatorType(s string) IndicatorType {
	switch s {
	case "":
		return ""
	case "ip", "IP":
		return IndicatorTypeIP
	case "ipv4", "IPv4", "ip:port":
		return IndicatorTypeIPv4
	case "ipv6", "IPv6":
		return IndicatorTypeIPv6
	case "domain", "Domain":
		return IndicatorTypeDomain
	case "hostname", "Hostname":
		return IndicatorTypeHost
	case "url", "URL", "URI", "uri":
		return IndicatorTypeURL
	case "filehash-md5", "FileHash-MD5", "md5", "md5_hash":
		return IndicatorTypeMD5
	case "filehash-sha1", "FileHash-SHA1", "sha1", "sha1_hash":
		return IndicatorTypeSHA1
	case "filehash-sha256", "FileHash-SHA256", "sha256", "sha256_hash":
		return IndicatorTypeSHA256
	default:
		return IndicatorTypeUnknown
	}
}

// Severity represents the threat severity level
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AllSeverities lists the bands from most to least severe
var AllSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// SeverityFromScore maps a risk score onto its band
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 75:
		return SeverityCritical
	case score >= 50:
		return SeverityHigh
	case score >= 25:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// UnknownCountry is the sentinel for unresolved origin
const UnknownCountry = "XX"

// Raw keys read by enrichment and scoring
const (
	RawKeyCountryCode = "country_code"
	RawKeyCountry     = "country"
	RawKeyGeoCountry  = "geo_country"
	RawKeyMalicious   = "malicious"
	RawKeySuspicious  = "suspicious"
	RawKeyMalware     = "malware"
	RawKeyAdversary   = "adversary"
)

// RawThreatRecord is a record as returned by a feed connector, before validation
type RawThreatRecord struct {
	Indicator string         `json:"indicator"`
	Type      IndicatorType  `json:"type,omitempty"`
	Score     *float64       `json:"score,omitempty"`
	Source    string         `json:"source"`
	Country   string         `json:"country,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	PulseName string         `json:"pulse_name,omitempty"`
	LastSeen  string         `json:"last_seen,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// ThreatRecord is one normalized, enriched indicator inside a snapshot
type ThreatRecord struct {
	Indicator    string         `json:"indicator"`
	Type         IndicatorType  `json:"type"`
	Score        *float64       `json:"score,omitempty"`
	Sources      []string       `json:"sources"`
	Country      string         `json:"country"`
	Tags         []string       `json:"tags"`
	PulseName    string         `json:"pulse_name,omitempty"`
	LastSeen     string         `json:"last_seen,omitempty"`
	RiskScore    float64        `json:"risk_score"`
	Severity     Severity       `json:"severity"`
	ThreatActors []string       `json:"threat_actors,omitempty"`
	Blacklisted  bool           `json:"blacklisted"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// RawScore returns the source confidence, or 0 when absent
func (r *ThreatRecord) RawScore() float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// HasSource reports whether slug reported this indicator
func (r *ThreatRecord) HasSource(slug string) bool {
	for _, s := range r.Sources {
		if s == slug {
			return true
		}
	}
	return false
}

// LastSeenTime parses LastSeen in the layouts feeds are known to emit
func (r *ThreatRecord) LastSeenTime() (time.Time, bool) {
	return ParseFeedTime(r.LastSeen)
}

var feedTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02",
}

// ParseFeedTime parses a feed timestamp. Layouts without a zone are read as UTC.
func ParseFeedTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FeedResult is what one connector returns for a single fetch
type FeedResult struct {
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Count     int               `json:"count"`
	Threats   []RawThreatRecord `json:"threats"`
	Metrics   map[string]any    `json:"metrics,omitempty"`
}
