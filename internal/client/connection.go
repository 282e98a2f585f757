// Package client dials out to a collector over a websocket and answers its
// read requests with fresh sensor transactions. It lets a device behind NAT
// be polled without exposing the HTTP server.
package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/afroash/dht11-httpd/internal/models"
	"github.com/afroash/dht11-httpd/internal/server"
)

// ErrMaxRetries is returned by Run once MaxRetries consecutive dials failed.
var ErrMaxRetries = errors.New("uplink: giving up after max retries")

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Connection manages the WebSocket connection to the collector
type Connection struct {
	URL       string
	AuthToken string

	conn       *websocket.Conn
	state      ConnectionState
	stateMutex sync.RWMutex
	writeMutex sync.Mutex

	reader         server.SensorReader
	requestTimeout time.Duration
	logger         zerolog.Logger

	connectTimeout           time.Duration
	reconnectInterval        time.Duration
	maxReconnectInterval     time.Duration
	currentReconnectInterval time.Duration
	maxRetries               int
	pingInterval             time.Duration
	pongTimeout              time.Duration

	lastPong      time.Time
	lastPongMutex sync.RWMutex
}

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	AuthToken            string
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	// MaxRetries bounds consecutive failed dials; zero or a negative value
	// retries forever. config.AppConfig maps a zero max_retries to its default.
	MaxRetries   int
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// NewConnection creates a new connection manager. requestTimeout bounds the
// transaction run for each read request.
func NewConnection(config ConnectionConfig, reader server.SensorReader, requestTimeout time.Duration, logger zerolog.Logger) *Connection {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = time.Second
	}
	if config.MaxReconnectInterval < config.ReconnectInterval {
		config.MaxReconnectInterval = config.ReconnectInterval
	}
	return &Connection{
		URL:                      config.URL,
		AuthToken:                config.AuthToken,
		state:                    StateDisconnected,
		reader:                   reader,
		requestTimeout:           requestTimeout,
		logger:                   logger.With().Str("component", "uplink").Logger(),
		connectTimeout:           config.ConnectTimeout,
		reconnectInterval:        config.ReconnectInterval,
		maxReconnectInterval:     config.MaxReconnectInterval,
		currentReconnectInterval: config.ReconnectInterval,
		maxRetries:               config.MaxRetries,
		pingInterval:             config.PingInterval,
		pongTimeout:              config.PongTimeout,
	}
}

func (c *Connection) setState(state ConnectionState) {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	c.state = state
	c.logger.Info().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect dials the collector and announces the sensor with a heartbeat
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.URL).Msg("Connecting to collector")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.connectTimeout,
	}

	header := http.Header{}
	if c.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	conn, resp, err := dialer.DialContext(ctx, c.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setState(StateDisconnected)
		return errors.Wrap(err, "dial failed")
	}

	conn.SetPongHandler(func(string) error {
		c.updateLastPong()
		return nil
	})

	c.stateMutex.Lock()
	c.conn = conn
	c.state = StateConnected
	c.stateMutex.Unlock()
	c.currentReconnectInterval = c.reconnectInterval
	c.updateLastPong()
	c.logger.Info().Msg("Connected to collector")

	if err := c.sendHeartbeat(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send registration")
		c.disconnect()
		return err
	}
	return nil
}

// Run keeps the uplink connected until ctx is cancelled, reconnecting with
// exponential backoff. It returns ErrMaxRetries when the collector stays
// unreachable for MaxRetries consecutive attempts.
func (c *Connection) Run(ctx context.Context) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.Connect(ctx); err != nil {
			failures++
			c.logger.Warn().Err(err).Int("attempt", failures).Msg("Connection failed")
			if c.maxRetries > 0 && failures >= c.maxRetries {
				return ErrMaxRetries
			}
			if !c.waitBeforeReconnect(ctx) {
				return ctx.Err()
			}
			continue
		}
		failures = 0

		c.runMessageLoops(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info().Msg("Connection lost, will reconnect")
		if !c.waitBeforeReconnect(ctx) {
			return ctx.Err()
		}
	}
}

// waitBeforeReconnect sleeps for the current backoff and doubles it, capped at
// the maximum. It reports false if ctx ended first.
func (c *Connection) waitBeforeReconnect(ctx context.Context) bool {
	delay := c.currentReconnectInterval
	c.logger.Info().Dur("delay", delay).Msg("Waiting before reconnect")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return false
	}

	c.currentReconnectInterval *= 2
	if c.currentReconnectInterval > c.maxReconnectInterval {
		c.currentReconnectInterval = c.maxReconnectInterval
	}
	return true
}

// runMessageLoops runs the read and heartbeat loops until either one stops
func (c *Connection) runMessageLoops(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.readLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.heartbeatLoop(ctx)
	}()

	// unblock ReadJSON once the context ends
	<-ctx.Done()
	c.disconnect()
	wg.Wait()
}

func (c *Connection) disconnect() {
	c.stateMutex.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.state = StateDisconnected
	c.stateMutex.Unlock()
	c.logger.Info().Msg("Connection disconnected")
}

func (c *Connection) currentConn() *websocket.Conn {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.conn
}

func (c *Connection) send(msgType models.MessageType, payload interface{}) error {
	if !c.IsConnected() {
		return errors.New("not connected")
	}
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		return errors.Wrap(err, "failed to create message")
	}

	conn := c.currentConn()
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (c *Connection) readLoop(ctx context.Context) {
	c.logger.Debug().Msg("Starting read loop")
	defer c.logger.Debug().Msg("Read loop stopped")

	conn := c.currentConn()
	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		c.handleMessage(ctx, &msg)
	}
}

// handleMessage processes a message received from the collector
func (c *Connection) handleMessage(ctx context.Context, msg *models.Message) {
	c.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")
	c.updateLastPong()

	switch msg.Type {
	case models.MessageTypeRead:
		var req models.ReadRequest
		if err := msg.UnmarshalPayload(&req); err != nil {
			c.send(models.MessageTypeError, models.ErrorMessage{Code: "bad_request", Message: err.Error()})
			return
		}
		msgType, payload := server.ServeRead(ctx, c.reader, c.requestTimeout, req.RequestID)
		if err := c.send(msgType, payload); err != nil {
			c.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("Failed to answer read request")
		}
	case models.MessageTypeAck:
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err == nil {
			c.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Collector error")
		}
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

func (c *Connection) updateLastPong() {
	c.lastPongMutex.Lock()
	defer c.lastPongMutex.Unlock()
	c.lastPong = time.Now()
}

func (c *Connection) timeSinceLastPong() time.Duration {
	c.lastPongMutex.RLock()
	defer c.lastPongMutex.RUnlock()
	return time.Since(c.lastPong)
}

// heartbeatLoop sends heartbeats and websocket pings, and gives up on the
// connection when nothing has come back within PongTimeout
func (c *Connection) heartbeatLoop(ctx context.Context) {
	if c.pingInterval <= 0 {
		<-ctx.Done()
		return
	}
	c.logger.Debug().Msg("Starting heartbeat loop")
	defer c.logger.Debug().Msg("Heartbeat loop stopped")

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.pongTimeout > 0 && c.timeSinceLastPong() > c.pongTimeout {
				c.logger.Warn().Msg("No pong received, connection appears dead")
				return
			}
			if err := c.ping(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
			if err := c.sendHeartbeat(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send heartbeat")
				return
			}
		}
	}
}

func (c *Connection) ping() error {
	conn := c.currentConn()
	if conn == nil {
		return errors.New("not connected")
	}
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

func (c *Connection) sendHeartbeat() error {
	info := c.reader.Info()
	state, _ := c.reader.State()
	return c.send(models.MessageTypeHeartbeat, models.HeartbeatMessage{
		SensorID: info.ID,
		Uptime:   int64(info.Uptime().Seconds()),
		State:    state.String(),
	})
}

// Close gracefully shuts down the connection
func (c *Connection) Close() error {
	c.logger.Info().Msg("Closing connection")

	if conn := c.currentConn(); conn != nil {
		c.writeMutex.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMutex.Unlock()
	}
	c.disconnect()
	return nil
}
