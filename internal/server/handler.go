package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/dht11-httpd/internal/models"
)

// Handler serves read requests over WebSocket connections
type Handler struct {
	upgrader       websocket.Upgrader
	authToken      string
	reader         SensorReader
	timeout        time.Duration
	logger         zerolog.Logger
	activeClients  map[string]*ClientConnection
	allowedOrigins []string
	mutex          sync.RWMutex

	// a client that answers no ping for pongWait is dropped
	pongWait   time.Duration
	pingPeriod time.Duration
}

// ClientConnection represents an active client connection
type ClientConnection struct {
	Addr        string    `json:"addr"`
	ClientID    string    `json:"client_id,omitempty"`
	Requests    int64     `json:"requests"`
	LastSeen    time.Time `json:"last_seen"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewHandler creates a new WebSocket handler. An empty authToken disables
// the bearer check.
func NewHandler(authToken string, reader SensorReader, timeout time.Duration, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		authToken:      authToken,
		reader:         reader,
		timeout:        timeout,
		logger:         logger,
		activeClients:  make(map[string]*ClientConnection),
		allowedOrigins: allowedOrigins,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.validateToken(r.Header.Get("Authorization")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	h.handleConnection(r.Context(), conn)
}

// validateToken checks the "Bearer <token>" header
func (h *Handler) validateToken(authHeader string) bool {
	if h.authToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	return ok && token == h.authToken
}

// handleConnection manages a single WebSocket connection
func (h *Handler) handleConnection(ctx context.Context, conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()

	h.mutex.Lock()
	h.activeClients[connKey] = &ClientConnection{
		Addr:        connKey,
		LastSeen:    now,
		ConnectedAt: now,
	}
	h.mutex.Unlock()

	defer conn.Close()
	defer h.removeClient(connKey)

	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(conn, done)

	h.logger.Info().Str("addr", connKey).Int("clients", h.ClientCount()).Msg("client connected")

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.pongWait))
		h.handleMessage(ctx, conn, connKey, &msg)
	}
}

// pingLoop pings the client every pingPeriod until done is closed or a ping
// cannot be written.
func (h *Handler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug().Err(err).Msg("failed to ping client")
				return
			}
		}
	}
}

// handleMessage processes a single message from the client
func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, connKey string, msg *models.Message) {
	h.logger.Debug().Str("type", string(msg.Type)).Msg("received message")
	h.touch(connKey, "", msg.Type == models.MessageTypeRead)

	switch msg.Type {
	case models.MessageTypeRead:
		var req models.ReadRequest
		if err := msg.UnmarshalPayload(&req); err != nil {
			h.send(conn, models.MessageTypeError, models.ErrorMessage{Code: "bad_request", Message: err.Error()})
			return
		}
		msgType, payload := ServeRead(ctx, h.reader, h.timeout, req.RequestID)
		h.send(conn, msgType, payload)

	case models.MessageTypeHeartbeat:
		var heartbeat models.HeartbeatMessage
		if err := msg.UnmarshalPayload(&heartbeat); err != nil {
			h.logger.Error().Err(err).Msg("failed to unmarshal heartbeat")
			return
		}
		h.touch(connKey, heartbeat.SensorID, false)
		h.send(conn, models.MessageTypeAck, models.AckMessage{Status: "ok"})

	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("unknown message type")
		h.send(conn, models.MessageTypeError, models.ErrorMessage{
			Code:    "unknown_type",
			Message: "unsupported message type " + string(msg.Type),
		})
	}
}

// ServeRead runs one transaction for a websocket read request and builds the
// reply. It is shared by the server endpoint and the uplink client.
func ServeRead(ctx context.Context, reader SensorReader, timeout time.Duration, requestID string) (models.MessageType, interface{}) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := reader.ReadOnce(ctx)
	switch {
	case err != nil:
		return models.MessageTypeError, models.ErrorMessage{
			RequestID: requestID,
			Code:      string(result.Outcome),
			Message:   err.Error(),
		}
	case result.Outcome == models.OutcomeChecksumMismatch:
		return models.MessageTypeError, models.ErrorMessage{
			RequestID: requestID,
			Code:      string(result.Outcome),
			Message:   "checksum mismatch",
		}
	default:
		return models.MessageTypeReading, models.ReadingMessage{
			RequestID: requestID,
			Reading:   *result.Reading,
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, msgType models.MessageType, payload interface{}) {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create message")
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", string(msgType)).Msg("failed to send message")
	}
}

// touch updates the last seen timestamp, and the client ID when known
func (h *Handler) touch(connKey, clientID string, request bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if client, exists := h.activeClients[connKey]; exists {
		client.LastSeen = time.Now()
		if clientID != "" {
			client.ClientID = clientID
		}
		if request {
			client.Requests++
		}
	}
}

// removeClient removes a client from the active clients map
func (h *Handler) removeClient(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.activeClients, connKey)
	h.logger.Info().Str("addr", connKey).Msg("client disconnected")
}

// GetActiveClients returns a list of currently connected clients
func (h *Handler) GetActiveClients() []ClientConnection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]ClientConnection, 0, len(h.activeClients))
	for _, client := range h.activeClients {
		clients = append(clients, *client)
	}
	return clients
}

// ClientCount returns the number of connected clients
func (h *Handler) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.activeClients)
}

// Constants for WebSocket timeouts
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)
