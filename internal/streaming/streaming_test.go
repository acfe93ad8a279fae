package streaming

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpulse/internal/config"
	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

func snapshotWithID(id string) *models.AggregateSnapshot {
	s := models.NewEmptySnapshot(time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC))
	s.ID = id
	s.Sources["abuseipdb"] = models.SourceStatus{
		Status:  models.FeedStatusOK,
		Count:   1,
		Threats: []models.RawThreatRecord{{Indicator: "1.2.3.4"}},
	}
	return s
}

func TestHub_InitialSnapshotThenBroadcast(t *testing.T) {
	hub := NewHub(2, logger.NewNop())
	sub := hub.Subscribe(func() *models.AggregateSnapshot { return snapshotWithID("first") })

	initial := <-sub.Updates()
	assert.Equal(t, "first", initial.ID)
	assert.Nil(t, initial.Sources["abuseipdb"].Threats, "subscribers get the public form")

	assert.Equal(t, 1, hub.Broadcast(snapshotWithID("second")))
	assert.Equal(t, "second", (<-sub.Updates()).ID)
}

func TestHub_SlowSubscriberIsDroppedAlone(t *testing.T) {
	hub := NewHub(1, logger.NewNop())
	slow := hub.Subscribe(nil)
	fast := hub.Subscribe(nil)

	assert.Equal(t, 2, hub.Broadcast(snapshotWithID("a")))
	<-fast.Updates()

	// slow never drained its buffer
	assert.Equal(t, 1, hub.Broadcast(snapshotWithID("b")))
	assert.Equal(t, 1, hub.Count())

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber should be removed")
	}
	assert.Equal(t, "b", (<-fast.Updates()).ID)

	// a removed subscriber's channel drains then closes
	<-slow.Updates()
	_, ok := <-slow.Updates()
	assert.False(t, ok)
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	hub := NewHub(0, logger.NewNop())
	a := hub.Subscribe(nil)
	b := hub.Subscribe(nil)

	hub.Unsubscribe(a.ID)
	hub.Unsubscribe(a.ID)
	hub.Unsubscribe("unknown")
	assert.Equal(t, 1, hub.Count())

	hub.Close()
	assert.Zero(t, hub.Count())
	<-b.Done()

	late := hub.Subscribe(nil)
	<-late.Done()
	assert.Zero(t, hub.Broadcast(snapshotWithID("x")))
}

func TestWebSocketServer_StreamsSnapshots(t *testing.T) {
	hub := NewHub(4, logger.NewNop())
	srv := httptest.NewServer(NewWebSocketServer(hub, func() *models.AggregateSnapshot {
		return snapshotWithID("current")
	}, []string{"*"}, logger.NewNop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg Message
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageInitial, msg.Type)
	assert.Equal(t, "current", msg.Snapshot.ID)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(snapshotWithID("next"))

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageUpdate, msg.Type)
	assert.Equal(t, "next", msg.Snapshot.ID)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWebSocketServer_ChecksOrigin(t *testing.T) {
	hub := NewHub(4, logger.NewNop())
	srv := httptest.NewServer(NewWebSocketServer(hub, func() *models.AggregateSnapshot {
		return snapshotWithID("current")
	}, []string{"https://app.example.com", "https://*.partner.io"}, logger.NewNop()))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"no origin", "", true},
		{"exact", "https://app.example.com", true},
		{"case insensitive", "https://APP.example.com", true},
		{"wildcard", "https://eu.partner.io", true},
		{"other site", "https://evil.example.net", false},
		{"scheme mismatch", "http://app.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if tt.ok {
				require.NoError(t, err)
				conn.Close()
				return
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestSnapshotStreamConfig(t *testing.T) {
	cfg := snapshotStreamConfig(config.NATSConfig{StreamName: "TP", Subject: "threats.snapshot"})
	assert.Equal(t, "TP", cfg.Name)
	assert.Equal(t, []string{"threats.>"}, cfg.Subjects)
	assert.Equal(t, "single", streamSubject("single"))
}
