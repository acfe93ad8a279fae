package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"threatpulse/internal/domain/models"
)

func TestApplyLists(t *testing.T) {
	records := []models.ThreatRecord{
		{Indicator: "1.2.3.4"},
		{Indicator: "evil.com"},
		{Indicator: "both.com"},
	}
	lists := models.ThreatLists{
		Whitelist: []string{"1.2.3.4", "BOTH.com"},
		Blacklist: []string{" evil.com ", "both.com"},
	}

	res := ApplyLists(records, lists)

	assert.Equal(t, 2, res.Whitelisted)
	assert.Equal(t, 1, res.Blacklisted)
	if assert.Len(t, res.Records, 1) {
		assert.Equal(t, "evil.com", res.Records[0].Indicator)
		assert.True(t, res.Records[0].Blacklisted)
	}
}
