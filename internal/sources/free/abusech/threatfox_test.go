package abusech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpulse/internal/domain/models"
	"threatpulse/internal/sources"
	"threatpulse/pkg/logger"
)

func newTestConnector(t *testing.T, body string, key string) *ThreatFoxConnector {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, key, r.Header.Get("Auth-Key"))
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "get_iocs", payload["query"])
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c := NewThreatFoxConnector(logger.NewNop())
	require.NoError(t, c.Configure(sources.ConnectorConfig{Enabled: true, APIURL: srv.URL, APIKey: key}))
	return c
}

func TestThreatFox_Fetch(t *testing.T) {
	c := newTestConnector(t, `{"query_status":"ok","data":[
		{"id":"1","ioc":"45.9.148.1:443","ioc_type":"ip:port","threat_type":"botnet_cc","malware_printable":"Cobalt Strike","confidence_level":100,"first_seen":"2026-10-14 08:00:00 UTC","tags":["cs"]},
		{"id":"2","ioc":"evil.example.com","ioc_type":"domain","threat_type":"payload_delivery","malware_printable":"Unknown malware","confidence_level":50,"first_seen":"2026-10-14 07:00:00 UTC","last_seen":"2026-10-14 09:00:00 UTC"},
		{"id":"3","ioc":"http://x.example/a","ioc_type":"url","confidence_level":75}
	]}`, "")

	res, err := c.Fetch(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	assert.Equal(t, 3, res.Metrics["iocs"])

	cc := res.Threats[0]
	assert.Equal(t, models.IndicatorTypeIPv4, cc.Type)
	assert.Equal(t, 100.0, *cc.Score)
	assert.Equal(t, []string{"cs", "cobalt strike", "botnet", "c2"}, cc.Tags)
	assert.Equal(t, "Cobalt Strike", cc.Raw[models.RawKeyMalware])
	assert.Equal(t, "2026-10-14 08:00:00 UTC", cc.LastSeen)

	dom := res.Threats[1]
	assert.Equal(t, []string{"malware"}, dom.Tags)
	assert.Equal(t, "2026-10-14 09:00:00 UTC", dom.LastSeen)
}

func TestThreatFox_QueryStatus(t *testing.T) {
	c := newTestConnector(t, `{"query_status":"no_result"}`, "key")
	res, err := c.Fetch(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, res.Count)

	c = newTestConnector(t, `{"query_status":"illegal_days"}`, "key")
	_, err = c.Fetch(context.Background(), 10)
	assert.ErrorContains(t, err, "illegal_days")
}
