package services

import (
	"math"
	"sort"

	"threatpulse/internal/domain/models"
)

const trendRatio = 1.2

// VelocityCalculator estimates arrival rate and trend from last_seen hours
type VelocityCalculator struct{}

// NewVelocityCalculator creates a VelocityCalculator
func NewVelocityCalculator() *VelocityCalculator {
	return &VelocityCalculator{}
}

// Calculate buckets records by hour of day. Records without a parseable
// timestamp count toward the total but not toward any bucket.
func (v *VelocityCalculator) Calculate(records []models.ThreatRecord) models.Velocity {
	result := models.Velocity{
		Trend:              models.TrendStable,
		HourlyDistribution: map[int]int{},
	}

	for _, rec := range records {
		ts, ok := rec.LastSeenTime()
		if !ok {
			continue
		}
		result.HourlyDistribution[ts.UTC().Hour()]++
		result.Timestamped++
	}

	if len(result.HourlyDistribution) == 0 {
		return result
	}

	hours := make([]int, 0, len(result.HourlyDistribution))
	for h := range result.HourlyDistribution {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	result.ThreatsPerHour = float64(len(records)) / float64(len(hours))
	result.VelocityScore = math.Min(result.ThreatsPerHour*10, 100)

	result.PeakHour = hours[0]
	result.PeakCount = result.HourlyDistribution[hours[0]]
	for _, h := range hours[1:] {
		if c := result.HourlyDistribution[h]; c > result.PeakCount {
			result.PeakHour, result.PeakCount = h, c
		}
	}

	if len(hours) >= 2 {
		mid := len(hours) / 2
		var first, second int
		for _, h := range hours[:mid] {
			first += result.HourlyDistribution[h]
		}
		for _, h := range hours[mid:] {
			second += result.HourlyDistribution[h]
		}
		switch {
		case float64(second) > trendRatio*float64(first):
			result.Trend = models.TrendIncreasing
		case float64(first) > trendRatio*float64(second):
			result.Trend = models.TrendDecreasing
		}
	}

	return result
}
