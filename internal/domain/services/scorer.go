package services

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"threatpulse/internal/config"
	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

const (
	maxBaseScore       = 50.0
	multiSourceStep    = 10.0
	maxMultiSource     = 30.0
	maxMaliciousBonus  = 20.0
	maxSuspiciousBonus = 10.0
	tagBonus           = 5.0
)

// typeMultipliers weight each indicator type by how specific it is
var typeMultipliers = map[models.IndicatorType]float64{
	models.IndicatorTypeIP:      1.0,
	models.IndicatorTypeIPv4:    1.0,
	models.IndicatorTypeIPv6:    1.0,
	models.IndicatorTypeHost:    1.1,
	models.IndicatorTypeDomain:  1.2,
	models.IndicatorTypeURL:     1.3,
	models.IndicatorTypeMD5:     1.4,
	models.IndicatorTypeSHA1:    1.45,
	models.IndicatorTypeSHA256:  1.5,
	models.IndicatorTypeUnknown: 1.0,
}

// highSeverityTags each add a fixed bonus when present
var highSeverityTags = map[string]bool{
	"malware":    true,
	"c2":         true,
	"botnet":     true,
	"ransomware": true,
	"trojan":     true,
	"backdoor":   true,
	"rat":        true,
}

// ScoreBreakdown exposes each stage of the risk computation
type ScoreBreakdown struct {
	Base             float64 `json:"base"`
	SourceMultiplier float64 `json:"source_multiplier"`
	MultiSource      float64 `json:"multi_source"`
	Recency          float64 `json:"recency"`
	TypeMultiplier   float64 `json:"type_multiplier"`
	VerdictBonus     float64 `json:"verdict_bonus"`
	TagBonus         float64 `json:"tag_bonus"`
	Total            float64 `json:"total"`
}

// Scorer calculates risk scores for threat records
type Scorer struct {
	reliability map[string]float64
	unknown     float64
	now         func() time.Time
	logger      *logger.Logger
}

// NewScorer creates a new Scorer. A nil clock uses time.Now.
func NewScorer(cfg config.ScoringConfig, now func() time.Time, log *logger.Logger) *Scorer {
	if now == nil {
		now = time.Now
	}
	reliability := make(map[string]float64, len(cfg.SourceReliability))
	for k, v := range cfg.SourceReliability {
		reliability[k] = v
	}
	unknown := cfg.UnknownSource
	if unknown <= 0 {
		unknown = 0.8
	}
	return &Scorer{
		reliability: reliability,
		unknown:     unknown,
		now:         now,
		logger:      log.WithComponent("scorer"),
	}
}

// Apply sets RiskScore and Severity on the record
func (s *Scorer) Apply(rec *models.ThreatRecord) {
	rec.RiskScore = s.Score(*rec)
	rec.Severity = models.SeverityFromScore(rec.RiskScore)
}

// Score returns the clamped risk score of a record
func (s *Scorer) Score(rec models.ThreatRecord) float64 {
	return s.Breakdown(rec).Total
}

// Breakdown computes the risk score stage by stage
func (s *Scorer) Breakdown(rec models.ThreatRecord) ScoreBreakdown {
	var b ScoreBreakdown

	// 1. Base from the source confidence
	b.Base = math.Min(rec.RawScore(), maxBaseScore)

	// 2. Best source reliability
	b.SourceMultiplier = s.sourceMultiplier(rec.Sources)
	score := b.Base * b.SourceMultiplier

	// 3. Corroboration
	if n := len(rec.Sources); n > 1 {
		b.MultiSource = math.Min(multiSourceStep*float64(n), maxMultiSource)
		score += b.MultiSource
	}

	// 4. Recency
	b.Recency = s.recencyBonus(rec.LastSeen)
	score += b.Recency

	// 5. Type severity
	b.TypeMultiplier = typeMultiplier(rec.Type)
	score *= b.TypeMultiplier

	// 6. Cross-check verdicts
	b.VerdictBonus = verdictBonus(rec.Raw)
	score += b.VerdictBonus

	// 7. Tags
	for _, tag := range rec.Tags {
		if highSeverityTags[tag] {
			b.TagBonus += tagBonus
		}
	}
	score += b.TagBonus

	b.Total = clamp(score, 0, 100)
	return b
}

func (s *Scorer) sourceMultiplier(sources []string) float64 {
	if len(sources) == 0 {
		return s.unknown
	}
	best := 0.0
	for _, src := range sources {
		w, ok := s.reliability[src]
		if !ok {
			w = s.unknown
		}
		if w > best {
			best = w
		}
	}
	return best
}

// recencyBonus scores how recently the indicator was seen
func (s *Scorer) recencyBonus(lastSeen string) float64 {
	ts, ok := models.ParseFeedTime(lastSeen)
	if !ok {
		return 0
	}
	age := s.now().Sub(ts)

	switch {
	case age < 24*time.Hour:
		return 15
	case age < 7*24*time.Hour:
		return 10
	case age < 30*24*time.Hour:
		return 5
	default:
		return 0
	}
}

func typeMultiplier(t models.IndicatorType) float64 {
	if m, ok := typeMultipliers[t]; ok {
		return m
	}
	return 1.0
}

func verdictBonus(raw map[string]any) float64 {
	var bonus float64
	if malicious, ok := rawNumber(raw, models.RawKeyMalicious); ok && malicious > 0 {
		bonus += math.Min(2*malicious, maxMaliciousBonus)
	}
	if suspicious, ok := rawNumber(raw, models.RawKeySuspicious); ok && suspicious > 0 {
		bonus += math.Min(suspicious, maxSuspiciousBonus)
	}
	return bonus
}

// rawNumber reads a numeric raw field regardless of how it was decoded
func rawNumber(raw map[string]any, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// clamp clamps a value between min and max
func clamp(value, min, max float64) float64 {
	if math.IsNaN(value) {
		return min
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
