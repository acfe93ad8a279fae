package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

func TestResolveCountry_Precedence(t *testing.T) {
	tests := []struct {
		name string
		rec  models.ThreatRecord
		want string
	}{
		{
			name: "direct field wins",
			rec: models.ThreatRecord{
				Indicator: "1.2.3.4", Type: models.IndicatorTypeIP, Country: "de",
				Raw: map[string]any{models.RawKeyCountryCode: "RU"},
			},
			want: "DE",
		},
		{
			name: "raw country code",
			rec: models.ThreatRecord{
				Indicator: "1.2.3.4", Type: models.IndicatorTypeIP, Country: "XX",
				Raw: map[string]any{models.RawKeyCountryCode: "RU"},
			},
			want: "RU",
		},
		{
			name: "provider ip field",
			rec: models.ThreatRecord{
				Indicator: "1.2.3.4", Type: models.IndicatorTypeIP,
				Raw: map[string]any{"countryCode": "CN"},
			},
			want: "CN",
		},
		{
			name: "nested geo block",
			rec: models.ThreatRecord{
				Indicator: "1.2.3.4", Type: models.IndicatorTypeIPv4,
				Raw: map[string]any{"geo": map[string]any{"country_code": "BR"}},
			},
			want: "BR",
		},
		{
			name: "composite tld",
			rec:  models.ThreatRecord{Indicator: "http://bad.example.co.uk/x", Type: models.IndicatorTypeURL},
			want: "GB",
		},
		{
			name: "plain cctld",
			rec:  models.ThreatRecord{Indicator: "evil.ru", Type: models.IndicatorTypeDomain},
			want: "RU",
		},
		{
			name: "generic tld",
			rec:  models.ThreatRecord{Indicator: "evil.com", Type: models.IndicatorTypeHost},
			want: models.UnknownCountry,
		},
		{
			name: "provider field ignored for hashes",
			rec: models.ThreatRecord{
				Indicator: strings.Repeat("a", 32), Type: models.IndicatorTypeMD5,
				Raw: map[string]any{"countryCode": "CN"},
			},
			want: models.UnknownCountry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCountry(tt.rec))
		})
	}
}

func TestEnricher_Attribute(t *testing.T) {
	e := NewEnricher(newTestScorer(), logger.NewNop())

	actors := e.Attribute(models.ThreatRecord{Indicator: "x.com", Tags: []string{"emotet"}})
	assert.Contains(t, actors, "TA542")

	actors = e.Attribute(models.ThreatRecord{Indicator: "1.2.3.4", Country: "KP"})
	assert.Equal(t, []string{"Lazarus Group"}, actors)

	actors = e.Attribute(models.ThreatRecord{Indicator: "x.com", PulseName: "APT28 phishing wave"})
	assert.Equal(t, []string{"APT28"}, actors)

	actors = e.Attribute(models.ThreatRecord{
		Indicator: "1.2.3.4",
		Raw:       map[string]any{models.RawKeyMalware: "TrickBot"},
	})
	assert.Equal(t, []string{"Wizard Spider"}, actors)

	actors = e.Attribute(models.ThreatRecord{
		Indicator: "1.2.3.4",
		Raw:       map[string]any{models.RawKeyAdversary: "Cozy Bear"},
	})
	assert.Equal(t, []string{"APT29"}, actors)

	assert.Nil(t, e.Attribute(models.ThreatRecord{Indicator: "8.8.8.8", Country: "US"}))
}

func TestEnricher_Enrich(t *testing.T) {
	e := NewEnricher(newTestScorer(), logger.NewNop())

	rec := models.ThreatRecord{
		Indicator: "evil.ir",
		Type:      models.IndicatorTypeDomain,
		Score:     floatPtr(50),
		Sources:   []string{"alienvault_otx"},
	}
	e.Enrich(&rec)

	assert.Equal(t, "IR", rec.Country)
	assert.Equal(t, []string{"Charming Kitten"}, rec.ThreatActors)
	// 50 * 1.3 * 1.2
	assert.InDelta(t, 78, rec.RiskScore, 1e-9)
	assert.Equal(t, models.SeverityCritical, rec.Severity)
}
