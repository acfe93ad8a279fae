package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFromScore_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{100, SeverityCritical},
		{75, SeverityCritical},
		{74.999, SeverityHigh},
		{50, SeverityHigh},
		{49.99, SeverityMedium},
		{25, SeverityMedium},
		{24.9, SeverityLow},
		{0.01, SeverityLow},
		{0, SeverityInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFromScore(tt.score), "score %v", tt.score)
	}
}

func TestParseFeedTime(t *testing.T) {
	ts, ok := ParseFeedTime("2026-03-01 10:20:30")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 20, 30, 0, time.UTC), ts)

	_, ok = ParseFeedTime("2026-03-01T10:20:30.123456")
	assert.True(t, ok)

	_, ok = ParseFeedTime("not a date")
	assert.False(t, ok)

	_, ok = ParseFeedTime("")
	assert.False(t, ok)
}

func TestParseIndicatorType(t *testing.T) {
	assert.Equal(t, IndicatorTypeSHA256, ParseIndicatorType("FileHash-SHA256"))
	assert.Equal(t, IndicatorTypeIPv4, ParseIndicatorType("IPv4"))
	assert.Equal(t, IndicatorTypeUnknown, ParseIndicatorType("email"))
	assert.Equal(t, IndicatorType(""), ParseIndicatorType(""))
}

func TestSnapshot_PublicStripsSourceRecords(t *testing.T) {
	s := NewEmptySnapshot(time.Now())
	s.Sources["abuseipdb"] = SourceStatus{
		Name:    "AbuseIPDB",
		Status:  FeedStatusOK,
		Count:   1,
		Threats: []RawThreatRecord{{Indicator: "1.2.3.4"}},
	}

	pub := s.Public()
	assert.Nil(t, pub.Sources["abuseipdb"].Threats)
	assert.Len(t, s.Sources["abuseipdb"].Threats, 1)

	threats, ok := s.SourceThreats("abuseipdb")
	assert.True(t, ok)
	assert.Len(t, threats, 1)
}

func TestNewEmptySnapshot_Shape(t *testing.T) {
	s := NewEmptySnapshot(time.Now())
	assert.True(t, s.IsEmpty())
	assert.NotNil(t, s.TopThreats)
	assert.NotNil(t, s.Correlations)
	assert.Equal(t, TrendStable, s.Velocity.Trend)
	assert.Len(t, s.BySeverity, 5)

	timeout := NewTimeoutSnapshot(time.Now(), "deadline exceeded")
	assert.Equal(t, SnapshotStatusTimeout, timeout.Status)
	assert.Equal(t, "deadline exceeded", timeout.Error)
}

func TestSummarizeSnapshot(t *testing.T) {
	s := NewEmptySnapshot(time.Now())
	s.ID = "abc"
	s.TotalThreats = 3
	s.ByCountry["RU"] = 2
	s.Sources["threatfox"] = SourceStatus{Count: 3}

	sum := SummarizeSnapshot(s)
	assert.Equal(t, "abc", sum.SnapshotID)
	assert.Equal(t, 3, sum.BySource["threatfox"])

	s.ByCountry["RU"] = 9
	assert.Equal(t, 2, sum.ByCountry["RU"])
}
