package models

import "time"

// HistorySummary is the compact form of a snapshot kept per day
type HistorySummary struct {
	SnapshotID       string         `json:"snapshot_id,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	TotalThreats     int            `json:"total_threats"`
	BySource         map[string]int `json:"by_source"`
	ByType           map[string]int `json:"by_type"`
	ByCountry        map[string]int `json:"by_country"`
	BySeverity       map[string]int `json:"by_severity"`
	AverageRiskScore float64        `json:"average_risk_score"`
}

// HistoryDay is the content of one UTC day file
type HistoryDay struct {
	Date    string           `json:"date"`
	Entries []HistorySummary `json:"entries"`
}

// Last returns the newest entry of the day
func (d *HistoryDay) Last() (HistorySummary, bool) {
	if d == nil || len(d.Entries) == 0 {
		return HistorySummary{}, false
	}
	return d.Entries[len(d.Entries)-1], true
}

// SummarizeSnapshot builds the compact history entry for a snapshot
func SummarizeSnapshot(s *AggregateSnapshot) HistorySummary {
	bySource := make(map[string]int, len(s.Sources))
	for slug, st := range s.Sources {
		bySource[slug] = st.Count
	}
	return HistorySummary{
		SnapshotID:       s.ID,
		Timestamp:        s.Timestamp,
		TotalThreats:     s.TotalThreats,
		BySource:         bySource,
		ByType:           copyCounts(s.ByType),
		ByCountry:        copyCounts(s.ByCountry),
		BySeverity:       copyCounts(s.BySeverity),
		AverageRiskScore: s.Metrics.AverageRiskScore,
	}
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TimelinePoint is one day in the timeline view
type TimelinePoint struct {
	Date             string         `json:"date"`
	Timestamp        time.Time      `json:"timestamp"`
	TotalThreats     int            `json:"total_threats"`
	BySource         map[string]int `json:"by_source"`
	ByType           map[string]int `json:"by_type"`
	BySeverity       map[string]int `json:"by_severity"`
	AverageRiskScore float64        `json:"average_risk_score"`
}

// CountryTrendPoint is one day of per-country counts
type CountryTrendPoint struct {
	Date      string         `json:"date"`
	ByCountry map[string]int `json:"by_country"`
}
