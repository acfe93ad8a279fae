package sources

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpulse/internal/config"
	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

type stubConnector struct {
	*BaseConnector
	fetched int
}

func newStub(slug string) *stubConnector {
	return &stubConnector{BaseConnector: NewBaseConnector(slug, strings.ToUpper(slug))}
}

func (s *stubConnector) Fetch(ctx context.Context, limit int) (*models.FeedResult, error) {
	s.fetched++
	return NewResult(s.Slug()), nil
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	require.NoError(t, r.Register(newStub("virustotal")))
	require.NoError(t, r.Register(newStub("abuseipdb")))
	assert.Error(t, r.Register(newStub("abuseipdb")))

	conns := r.List()
	require.Len(t, conns, 2)
	assert.Equal(t, "abuseipdb", conns[0].Slug())
	assert.Equal(t, "virustotal", conns[1].Slug())
}

func TestRegistry_ConfigureFromSourcesConfig(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	abuse := newStub("abuseipdb")
	vt := newStub("virustotal")
	require.NoError(t, r.Register(abuse))
	require.NoError(t, r.Register(vt))

	r.ConfigureFromSourcesConfig(config.SourcesConfig{
		AbuseIPDB:  config.SourceConfig{Enabled: true, APIKey: "k", Limit: 25},
		VirusTotal: config.SourceConfig{Enabled: false},
	}, 5*time.Second)

	assert.Equal(t, "k", abuse.Config().APIKey)
	assert.Equal(t, 5*time.Second, abuse.Config().Timeout)
	assert.False(t, vt.IsEnabled())

	stats := r.Stats()
	assert.Equal(t, 2, stats.TotalConnectors)
	assert.Equal(t, 1, stats.EnabledConnectors)
	assert.Equal(t, 1, r.CountEnabled())

	enabled := r.ListEnabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "abuseipdb", enabled[0].Slug())
}

func TestBaseConnector_Limit(t *testing.T) {
	c := NewBaseConnector("x", "X")
	assert.Equal(t, 100, c.Limit(0, 100))
	assert.Equal(t, 30, c.Limit(30, 100))

	require.NoError(t, c.Configure(ConnectorConfig{Enabled: true, Limit: 20}))
	assert.Equal(t, 20, c.Limit(30, 100))
	assert.Equal(t, 10, c.Limit(10, 100))
	assert.Equal(t, 20, c.Limit(0, 100))
	assert.Equal(t, DefaultConfig().Timeout, c.Config().Timeout)
}

func TestCheckResponse(t *testing.T) {
	resp := func(code int, body string) *http.Response {
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}
	}

	assert.NoError(t, CheckResponse("feed", resp(http.StatusOK, "")))
	assert.ErrorIs(t, CheckResponse("feed", resp(http.StatusTooManyRequests, "")), ErrRateLimited)
	assert.ErrorContains(t, CheckResponse("feed", resp(http.StatusForbidden, "nope")), "unauthorized (status 403): nope")
	assert.ErrorContains(t, CheckResponse("feed", resp(http.StatusBadGateway, strings.Repeat("x", 1000))), "unexpected status 502")
	assert.ErrorIs(t, NotConfigured("feed"), ErrNotConfigured)
}
