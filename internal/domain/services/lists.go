package services

import (
	"strings"

	"threatpulse/internal/domain/models"
)

// ListProvider exposes the current whitelist and blacklist
type ListProvider interface {
	Lists() models.ThreatLists
}

// ListKey is the comparison form of an indicator in both lists
func ListKey(indicator string) string {
	return strings.ToLower(strings.TrimSpace(indicator))
}

// ListFilterResult reports what ApplyLists did
type ListFilterResult struct {
	Records     []models.ThreatRecord
	Whitelisted int
	Blacklisted int
}

// ApplyLists drops whitelisted records and flags blacklisted ones.
// The whitelist wins when an indicator is in both lists.
func ApplyLists(records []models.ThreatRecord, lists models.ThreatLists) ListFilterResult {
	white := toSet(lists.Whitelist)
	black := toSet(lists.Blacklist)

	res := ListFilterResult{Records: make([]models.ThreatRecord, 0, len(records))}
	for _, rec := range records {
		k := ListKey(rec.Indicator)
		if white[k] {
			res.Whitelisted++
			continue
		}
		if black[k] {
			rec.Blacklisted = true
			res.Blacklisted++
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[ListKey(it)] = true
	}
	return set
}
