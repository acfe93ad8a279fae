package services

import (
	"sort"
	"strings"

	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

const (
	minGroupSize    = 2
	groupSampleSize = 5
)

// Correlation dimensions
const (
	DimensionDomain  = "domain"
	DimensionCountry = "country"
	DimensionTags    = "tags"
	DimensionPulse   = "pulse"
)

// Correlator groups records sharing an attribute value
type Correlator struct {
	maxGroups int
	logger    *logger.Logger
}

// NewCorrelator creates a Correlator. maxGroups <= 0 keeps every group.
func NewCorrelator(maxGroups int, log *logger.Logger) *Correlator {
	return &Correlator{
		maxGroups: maxGroups,
		logger:    log.WithComponent("correlator"),
	}
}

type groupAcc struct {
	key     string
	members []string
	seen    map[string]bool
	maxRisk float64
}

// Correlate builds groups of at least two members, largest first
func (c *Correlator) Correlate(records []models.ThreatRecord) []models.CorrelationGroup {
	groups := make(map[string]*groupAcc)

	for _, rec := range records {
		member := rec.Indicator
		for _, key := range CorrelationKeys(rec) {
			g, ok := groups[key]
			if !ok {
				g = &groupAcc{key: key, seen: make(map[string]bool)}
				groups[key] = g
			}
			if g.seen[member] {
				continue
			}
			g.seen[member] = true
			g.members = append(g.members, member)
			if rec.RiskScore > g.maxRisk {
				g.maxRisk = rec.RiskScore
			}
		}
	}

	result := make([]models.CorrelationGroup, 0)
	for _, g := range groups {
		if len(g.members) < minGroupSize {
			continue
		}
		dim, value, _ := strings.Cut(g.key, ":")
		sample := g.members
		if len(sample) > groupSampleSize {
			sample = sample[:groupSampleSize]
		}
		result = append(result, models.CorrelationGroup{
			Key:       g.key,
			Dimension: dim,
			Value:     value,
			Count:     len(g.members),
			Members:   g.members,
			Sample:    append([]string(nil), sample...),
			MaxRisk:   g.maxRisk,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Key < result[j].Key
	})

	if c.maxGroups > 0 && len(result) > c.maxGroups {
		result = result[:c.maxGroups]
	}

	c.logger.Debug().Int("records", len(records)).Int("groups", len(result)).Msg("correlated records")
	return result
}

// CorrelationKeys lists every dimension:value key a record belongs to
func CorrelationKeys(rec models.ThreatRecord) []string {
	keys := make([]string, 0, 4+len(rec.Tags))

	if rec.Type.IsNetworkName() {
		if root := RootDomain(hostOf(rec)); root != "" {
			keys = append(keys, DimensionDomain+":"+root)
		}
	}
	if hasCountry(rec.Country) {
		keys = append(keys, DimensionCountry+":"+rec.Country)
	}
	for _, tag := range rec.Tags {
		keys = append(keys, DimensionTags+":"+tag)
	}
	if len(rec.Tags) > 1 {
		sorted := append([]string(nil), rec.Tags...)
		sort.Strings(sorted)
		keys = append(keys, DimensionTags+":"+strings.Join(sorted, ","))
	}
	if rec.PulseName != "" {
		keys = append(keys, DimensionPulse+":"+strings.ToLower(rec.PulseName))
	}
	return keys
}

// RootDomain returns the last two DNS labels of host
func RootDomain(host string) string {
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) < 2 {
		return ""
	}
	return labels[len(labels)-2] + "." + labels[len(labels)-1]
}
