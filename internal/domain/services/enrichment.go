package services

import (
	"net/url"
	"strings"

	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

// Enricher resolves country and attribution, then scores a record
type Enricher struct {
	scorer *Scorer
	actors []ThreatActor
	logger *logger.Logger
}

// NewEnricher creates an Enricher backed by the built-in tables
func NewEnricher(scorer *Scorer, log *logger.Logger) *Enricher {
	return &Enricher{
		scorer: scorer,
		actors: threatActors,
		logger: log.WithComponent("enricher"),
	}
}

// Enrich fills Country, ThreatActors, RiskScore and Severity in place
func (e *Enricher) Enrich(rec *models.ThreatRecord) {
	rec.Country = ResolveCountry(*rec)
	rec.ThreatActors = e.Attribute(*rec)
	e.scorer.Apply(rec)
}

// EnrichAll enriches every record of the slice
func (e *Enricher) EnrichAll(records []models.ThreatRecord) {
	for i := range records {
		e.Enrich(&records[i])
	}
}

// ResolveCountry picks the origin country using, in order: the record's
// own field, generic raw fields, provider IP fields, then the TLD table.
func ResolveCountry(rec models.ThreatRecord) string {
	if c := normalizeCountry(rec.Country); c != "" && c != models.UnknownCountry {
		return c
	}
	if c := countryFromRaw(rec.Raw, rawCountryKeys); c != "" {
		return c
	}
	if rec.Type.IsIP() {
		if c := countryFromRaw(rec.Raw, ipCountryKeys); c != "" {
			return c
		}
		if geo, ok := rec.Raw["geo"].(map[string]any); ok {
			if c := countryFromRaw(geo, rawCountryKeys); c != "" {
				return c
			}
		}
	}
	if rec.Type.IsNetworkName() {
		if c := countryFromTLD(hostOf(rec)); c != "" {
			return c
		}
	}
	return models.UnknownCountry
}

func countryFromRaw(raw map[string]any, keys []string) string {
	for _, k := range keys {
		s, ok := raw[k].(string)
		if !ok {
			continue
		}
		if c := normalizeCountry(s); c != "" && c != models.UnknownCountry {
			return c
		}
	}
	return ""
}

func hostOf(rec models.ThreatRecord) string {
	if rec.Type == models.IndicatorTypeURL {
		u, err := url.Parse(rec.Indicator)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	return strings.ToLower(rec.Indicator)
}

func countryFromTLD(host string) string {
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) < 2 {
		return ""
	}
	if len(labels) >= 3 {
		composite := labels[len(labels)-2] + "." + labels[len(labels)-1]
		if c, ok := compositeTLDs[composite]; ok {
			return c
		}
	}
	return tldCountries[labels[len(labels)-1]]
}

// Attribute returns the canonical names of every actor with a matching
// signal, or nil when nothing matches.
func (e *Enricher) Attribute(rec models.ThreatRecord) []string {
	tags := make(map[string]bool, len(rec.Tags))
	for _, t := range rec.Tags {
		tags[t] = true
	}
	pulse := strings.ToLower(rec.PulseName)
	indicator := strings.ToLower(rec.Indicator)
	family := ""
	if m, ok := rec.Raw[models.RawKeyMalware].(string); ok {
		family = strings.ToLower(m)
	}
	adversary := ""
	if a, ok := rec.Raw[models.RawKeyAdversary].(string); ok {
		adversary = strings.ToLower(a)
	}

	var names []string
	seen := make(map[string]bool)
	for _, actor := range e.actors {
		if seen[actor.Name] || !actorMatches(actor, tags, rec.Country, pulse, indicator, family, adversary) {
			continue
		}
		seen[actor.Name] = true
		names = append(names, actor.Name)
	}
	return names
}

func actorMatches(a ThreatActor, tags map[string]bool, country, pulse, indicator, family, adversary string) bool {
	for _, t := range a.Tags {
		if tags[t] {
			return true
		}
	}
	for _, c := range a.Countries {
		if c == country {
			return true
		}
	}
	if adversary != "" {
		if strings.Contains(adversary, strings.ToLower(a.Name)) {
			return true
		}
		for _, alias := range a.Aliases {
			if strings.Contains(adversary, strings.ToLower(alias)) {
				return true
			}
		}
	}
	for _, kw := range a.PulseKeywords {
		if pulse != "" && strings.Contains(pulse, kw) {
			return true
		}
	}
	for _, mf := range a.MalwareFamilies {
		if strings.Contains(indicator, mf) || (pulse != "" && strings.Contains(pulse, mf)) || (family != "" && strings.Contains(family, mf)) {
			return true
		}
	}
	return false
}
