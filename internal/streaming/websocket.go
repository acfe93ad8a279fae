package streaming

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024
)

// SnapshotSource supplies the snapshot a new subscriber starts with
type SnapshotSource func() *models.AggregateSnapshot

// Message is the envelope written to WebSocket clients
type Message struct {
	Type     string                    `json:"type"`
	Snapshot *models.AggregateSnapshot `json:"snapshot"`
}

// Message types
const (
	MessageInitial = "snapshot"
	MessageUpdate  = "update"
)

// WebSocketServer attaches WebSocket clients to the Hub
type WebSocketServer struct {
	hub      *Hub
	current  SnapshotSource
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewWebSocketServer creates a WebSocketServer. Browsers do not preflight
// upgrades, so allowedOrigins is checked here using the same patterns as
// the CORS settings: "*", exact origins, or one wildcard like
// "https://*.example.com".
func NewWebSocketServer(hub *Hub, current SnapshotSource, allowedOrigins []string, log *logger.Logger) *WebSocketServer {
	return &WebSocketServer{
		hub:     hub,
		current: current,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: log.WithComponent("websocket"),
	}
}

// originChecker allows requests without an Origin header (non-browser clients)
func originChecker(allowed []string) func(*http.Request) bool {
	patterns := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			patterns = append(patterns, o)
		}
	}
	return func(r *http.Request) bool {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		for _, p := range patterns {
			if originMatches(p, origin) {
				return true
			}
		}
		return false
	}
}

func originMatches(pattern, origin string) bool {
	if pattern == "*" || pattern == origin {
		return true
	}
	prefix, suffix, ok := strings.Cut(pattern, "*")
	if !ok {
		return false
	}
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) &&
		strings.HasSuffix(origin, suffix)
}

// ServeHTTP upgrades the connection and streams snapshots until the
// client goes away or the hub drops it
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	sub := s.hub.Subscribe(s.current)
	log := s.logger.With().Str("subscriber", sub.ID).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("client connected")

	go s.readPump(conn, sub)
	s.writePump(conn, sub)

	s.hub.Unsubscribe(sub.ID)
	conn.Close()
	log.Info().Msg("client disconnected")
}

// readPump discards client messages and unsubscribes on disconnect
func (s *WebSocketServer) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer s.hub.Unsubscribe(sub.ID)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("subscriber", sub.ID).Msg("websocket read error")
			}
			return
		}
	}
}

// writePump forwards hub updates and keeps the connection alive
func (s *WebSocketServer) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	kind := MessageInitial
	for {
		select {
		case snap, ok := <-sub.Updates():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := json.Marshal(Message{Type: kind, Snapshot: snap})
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to marshal snapshot")
				continue
			}
			kind = MessageUpdate
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
