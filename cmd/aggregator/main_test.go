package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"threatpulse/internal/domain/models"
)

func TestAllFeedsFailed(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.FeedStatus
		want     bool
	}{
		{"no feeds", nil, false},
		{"all errored", []models.FeedStatus{models.FeedStatusError, models.FeedStatusError}, true},
		{"errors and unconfigured", []models.FeedStatus{models.FeedStatusError, models.FeedStatusNotConfigured}, true},
		{"one ok", []models.FeedStatus{models.FeedStatusError, models.FeedStatusOK}, false},
		{"served from cache", []models.FeedStatus{models.FeedStatusError, models.FeedStatusCached}, false},
		{"nothing configured", []models.FeedStatus{models.FeedStatusNotConfigured, models.FeedStatusDisabled}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := models.NewEmptySnapshot(time.Now())
			for i, st := range tt.statuses {
				snap.Sources[string(rune('a'+i))] = models.SourceStatus{Status: st}
			}
			assert.Equal(t, tt.want, allFeedsFailed(snap))
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, calculateBackoff(1))
	assert.Equal(t, 60*time.Second, calculateBackoff(2))
	assert.Equal(t, 120*time.Second, calculateBackoff(3))
	assert.Equal(t, maxRetryDelay, calculateBackoff(10))
}

func TestPrintSummary(t *testing.T) {
	snap := models.NewEmptySnapshot(time.Now())
	snap.ID = "snap-42"
	snap.Status = models.SnapshotStatusOK
	snap.TotalThreats = 3
	snap.Sources["threatfox"] = models.SourceStatus{Status: models.FeedStatusOK, Count: 3}
	snap.Sources["abuseipdb"] = models.SourceStatus{Status: models.FeedStatusError, Error: "HTTP 429"}

	var buf bytes.Buffer
	printSummary(&buf, snap)

	out := buf.String()
	assert.Contains(t, out, "snap-42")
	assert.Contains(t, out, "HTTP 429")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("abuseipdb")), bytes.Index(buf.Bytes(), []byte("threatfox")))
}
