package services

import (
	"strings"

	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

// Deduplicator merges records describing the same indicator across sources
type Deduplicator struct {
	logger *logger.Logger
}

// NewDeduplicator creates a new Deduplicator
func NewDeduplicator(log *logger.Logger) *Deduplicator {
	return &Deduplicator{
		logger: log.WithComponent("deduplicator"),
	}
}

type dedupKey struct {
	indicator string
	iocType   models.IndicatorType
}

func keyOf(r models.ThreatRecord) dedupKey {
	return dedupKey{
		indicator: strings.ToLower(strings.TrimSpace(r.Indicator)),
		iocType:   r.Type,
	}
}

// Deduplicate collapses records sharing (indicator, type). Callers must
// not depend on the output order.
func (d *Deduplicator) Deduplicate(records []models.ThreatRecord) []models.ThreatRecord {
	index := make(map[dedupKey]int, len(records))
	result := make([]models.ThreatRecord, 0, len(records))
	duplicates := 0

	for _, rec := range records {
		k := keyOf(rec)
		if i, ok := index[k]; ok {
			result[i] = MergeRecords(result[i], rec)
			duplicates++
			continue
		}
		index[k] = len(result)
		rec.Sources = mergeStrings(nil, rec.Sources)
		result = append(result, rec)
	}

	if duplicates > 0 {
		d.logger.Debug().
			Int("input", len(records)).
			Int("unique", len(result)).
			Int("duplicates", duplicates).
			Msg("deduplicated records")
	}

	return result
}

// MergeRecords merges two records with the same key. The more complete
// record is kept as the base; sources and tags are unioned, the higher
// raw score and the most recent sighting win.
func MergeRecords(a, b models.ThreatRecord) models.ThreatRecord {
	base, other := a, b
	if richness(b) > richness(a) {
		base, other = b, a
	}

	merged := base
	merged.Sources = mergeStrings(a.Sources, b.Sources)
	merged.Tags = mergeTags(base.Tags, other.Tags)

	if other.Score != nil && (base.Score == nil || *other.Score > *base.Score) {
		s := *other.Score
		merged.Score = &s
	} else if base.Score != nil {
		s := *base.Score
		merged.Score = &s
	}

	if !hasCountry(merged.Country) && hasCountry(other.Country) {
		merged.Country = other.Country
	}
	if merged.PulseName == "" {
		merged.PulseName = other.PulseName
	}
	merged.LastSeen = latestTimestamp(base.LastSeen, other.LastSeen)
	merged.Raw = mergeRaw(base.Raw, other.Raw)

	return merged
}

// richness ranks how information-complete a record is
func richness(r models.ThreatRecord) int {
	n := len(r.Tags)
	if hasCountry(r.Country) {
		n++
	}
	if r.PulseName != "" {
		n++
	}
	return n
}

func hasCountry(c string) bool {
	return c != "" && c != models.UnknownCountry
}

func latestTimestamp(a, b string) string {
	ta, okA := models.ParseFeedTime(a)
	tb, okB := models.ParseFeedTime(b)
	switch {
	case okA && okB:
		if tb.After(ta) {
			return b
		}
		return a
	case okB:
		return b
	case a != "":
		return a
	default:
		return b
	}
}

// mergeRaw keeps base values and fills keys only other carries
func mergeRaw(base, other map[string]any) map[string]any {
	if len(base) == 0 && len(other) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(other))
	for k, v := range other {
		out[k] = v
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}

// mergeTags merges two tag slices, removing duplicates
func mergeTags(a, b []string) []string {
	return mergeStrings(a, b)
}

// mergeStrings merges two string slices, removing duplicates
func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	return result
}
