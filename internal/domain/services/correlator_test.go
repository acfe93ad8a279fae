package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

func hashRecord(c string, tags ...string) models.ThreatRecord {
	return models.ThreatRecord{
		Indicator: strings.Repeat(c, 64),
		Type:      models.IndicatorTypeSHA256,
		Country:   models.UnknownCountry,
		Tags:      tags,
	}
}

func TestCorrelator_SharedTag(t *testing.T) {
	c := NewCorrelator(25, logger.NewNop())

	groups := c.Correlate([]models.ThreatRecord{
		hashRecord("a", "emotet"),
		hashRecord("b", "emotet", "trojan"),
		hashRecord("c", "emotet"),
	})

	require.Len(t, groups, 1)
	assert.Equal(t, "tags:emotet", groups[0].Key)
	assert.Equal(t, "tags", groups[0].Dimension)
	assert.Equal(t, "emotet", groups[0].Value)
	assert.Equal(t, 3, groups[0].Count)
	assert.Len(t, groups[0].Sample, 3)
}

func TestCorrelator_PairRemovalDropsGroup(t *testing.T) {
	c := NewCorrelator(0, logger.NewNop())

	a := models.ThreatRecord{Indicator: "1.1.1.1", Type: models.IndicatorTypeIP, Country: "RU"}
	b := models.ThreatRecord{Indicator: "2.2.2.2", Type: models.IndicatorTypeIP, Country: "RU"}

	groups := c.Correlate([]models.ThreatRecord{a, b})
	require.Len(t, groups, 1)
	assert.Equal(t, "country:RU", groups[0].Key)

	assert.Empty(t, c.Correlate([]models.ThreatRecord{a}))
}

func TestCorrelator_DomainPulseAndOrdering(t *testing.T) {
	c := NewCorrelator(0, logger.NewNop())

	records := []models.ThreatRecord{
		{Indicator: "a.evil.com", Type: models.IndicatorTypeDomain, Country: "XX", PulseName: "Wave"},
		{Indicator: "b.evil.com", Type: models.IndicatorTypeHost, Country: "XX", PulseName: "wave"},
		{Indicator: "http://c.evil.com/x", Type: models.IndicatorTypeURL, Country: "XX"},
		{Indicator: "1.2.3.4", Type: models.IndicatorTypeIP, Country: "XX", PulseName: "Wave"},
	}

	groups := c.Correlate(records)
	require.Len(t, groups, 2)
	assert.Equal(t, "domain:evil.com", groups[0].Key)
	assert.Equal(t, 3, groups[0].Count)
	assert.Equal(t, "pulse:wave", groups[1].Key)
	assert.Equal(t, 3, groups[1].Count)

	for _, g := range groups {
		assert.GreaterOrEqual(t, g.Count, 2)
	}
}

func TestCorrelator_CapsAndSamples(t *testing.T) {
	c := NewCorrelator(1, logger.NewNop())

	var records []models.ThreatRecord
	for _, ch := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		records = append(records, hashRecord(ch, "botnet"))
	}
	records = append(records, hashRecord("8", "rat"), hashRecord("9", "rat"))

	groups := c.Correlate(records)
	require.Len(t, groups, 1)
	assert.Equal(t, "tags:botnet", groups[0].Key)
	assert.Equal(t, 7, groups[0].Count)
	assert.Len(t, groups[0].Sample, 5)
	assert.Len(t, groups[0].Members, 7)
}

func TestCorrelator_CompositeTagKey(t *testing.T) {
	keys := CorrelationKeys(hashRecord("f", "trojan", "emotet"))
	assert.Contains(t, keys, "tags:emotet,trojan")
	assert.Contains(t, keys, "tags:trojan")
	assert.NotContains(t, keys, "country:XX")
}

func TestRootDomain(t *testing.T) {
	assert.Equal(t, "evil.com", RootDomain("a.b.evil.com"))
	assert.Equal(t, "evil.com", RootDomain("evil.com."))
	assert.Equal(t, "", RootDomain("localhost"))
}
