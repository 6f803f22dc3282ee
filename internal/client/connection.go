package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/models"
)

// ErrNotConnected is returned when sending while the stream is down
var ErrNotConnected = errors.New("not connected")

const writeWait = 10 * time.Second

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

// Connection manages the field node's WebSocket stream to the dashboard server
type Connection struct {
	URL       string
	AuthToken string

	conn       *websocket.Conn
	state      ConnectionState
	stateMutex sync.RWMutex
	writeMutex sync.Mutex

	logger         zerolog.Logger
	nodeInfo       *models.NodeInfo
	connectTimeout time.Duration
	pingInterval   time.Duration
	pongTimeout    time.Duration
	backoff        *backoff.ExponentialBackOff

	lastAck      time.Time
	lastAckMutex sync.RWMutex

	bufferSize func() int
	onConnect  func()

	acked      atomic.Int64
	rejected   atomic.Int64
	reconnects atomic.Int64

	stopChan chan struct{}
	stopOnce sync.Once
}

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	AuthToken            string
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

// ConnectionStats counts acknowledgements and reconnects
type ConnectionStats struct {
	Acked      int64
	Rejected   int64
	Reconnects int64
}

// NewConnection creates a new connection manager
func NewConnection(config ConnectionConfig, nodeInfo *models.NodeInfo, logger zerolog.Logger) *Connection {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = time.Second
	}
	if config.MaxReconnectInterval < config.ReconnectInterval {
		config.MaxReconnectInterval = config.ReconnectInterval
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = config.ReconnectInterval
	bo.MaxInterval = config.MaxReconnectInterval
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // retry until the context ends

	return &Connection{
		URL:            config.URL,
		AuthToken:      config.AuthToken,
		state:          StateDisconnected,
		logger:         logger,
		nodeInfo:       nodeInfo,
		connectTimeout: config.ConnectTimeout,
		pingInterval:   config.PingInterval,
		pongTimeout:    config.PongTimeout,
		backoff:        bo,
		bufferSize:     func() int { return 0 },
		stopChan:       make(chan struct{}),
	}
}

// SetBufferSizeFunc reports the offline buffer size in heartbeats
func (c *Connection) SetBufferSizeFunc(fn func() int) {
	if fn != nil {
		c.bufferSize = fn
	}
}

// OnConnect registers a callback run after every successful (re)connect,
// before the message loops start
func (c *Connection) OnConnect(fn func()) {
	c.onConnect = fn
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

// Stats returns a snapshot of the ack and reconnect counters
func (c *Connection) Stats() ConnectionStats {
	return ConnectionStats{
		Acked:      c.acked.Load(),
		Rejected:   c.rejected.Load(),
		Reconnects: c.reconnects.Load(),
	}
}

// Connect dials the server once and registers the node with a heartbeat
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.URL).Msg("Connecting to server...")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.connectTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.AuthToken)

	conn, resp, err := dialer.DialContext(ctx, c.URL, header)
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	resp.Body.Close()

	c.stateMutex.Lock()
	c.conn = conn
	c.stateMutex.Unlock()
	c.setState(StateConnected)
	c.updateLastAck()
	c.logger.Info().Msg("Connected to server")

	if err := c.sendHeartbeat(); err != nil {
		c.disconnect()
		return fmt.Errorf("registration failed: %w", err)
	}
	return nil
}

// Run keeps the stream up until ctx is cancelled or Close is called,
// reconnecting with exponential backoff
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for first := true; ; first = false {
		err := backoff.RetryNotify(
			func() error { return c.Connect(ctx) },
			backoff.WithContext(c.backoff, ctx),
			func(err error, delay time.Duration) {
				c.logger.Warn().Err(err).Dur("delay", delay).Msg("Connection failed, retrying")
			},
		)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if !first {
			c.reconnects.Add(1)
		}

		if c.onConnect != nil {
			c.onConnect()
		}
		c.runMessageLoops(ctx)

		if c.stopped() {
			return context.Canceled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.logger.Info().Msg("Connection lost, will reconnect")
	}
}

func (c *Connection) stopped() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

// runMessageLoops runs the read and heartbeat loops until either stops
func (c *Connection) runMessageLoops(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		c.readLoop()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		c.heartbeatLoop(ctx)
	}()

	// Closing the socket unblocks the read loop.
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

// Send sends a single reading to the server
func (c *Connection) Send(reading *models.Reading) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	msg, err := models.NewMessage(models.MessageTypeReading, reading)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return c.sendMessage(msg)
}

// SendBatch sends multiple readings in one message
func (c *Connection) SendBatch(readings []*models.Reading) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(readings) == 0 {
		return nil
	}

	batch := models.BatchMessage{
		Readings: make([]models.Reading, len(readings)),
		Count:    len(readings),
	}
	for i, r := range readings {
		batch.Readings[i] = *r
	}

	msg, err := models.NewMessage(models.MessageTypeBatch, batch)
	if err != nil {
		return fmt.Errorf("failed to create batch message: %w", err)
	}
	if err := c.sendMessage(msg); err != nil {
		return err
	}
	c.logger.Info().Int("count", len(readings)).Msg("Sent batch of readings")
	return nil
}

func (c *Connection) sendMessage(msg *models.Message) error {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Connection) readLoop() {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()

	c.logger.Debug().Msg("Starting read loop")
	defer c.logger.Debug().Msg("Read loop stopped")

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// handleMessage processes a message received from the server
func (c *Connection) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeAck:
		c.updateLastAck()
		var ack models.AckMessage
		if err := msg.UnmarshalPayload(&ack); err != nil {
			c.logger.Warn().Err(err).Msg("Malformed ack")
			return
		}
		if ack.Status == "rejected" {
			c.rejected.Add(1)
			c.logger.Warn().Str("message_id", ack.MessageID).Msg("Server rejected message")
			return
		}
		c.acked.Add(1)
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err == nil {
			c.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Server error")
		}
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

func (c *Connection) updateLastAck() {
	c.lastAckMutex.Lock()
	defer c.lastAckMutex.Unlock()
	c.lastAck = time.Now()
}

func (c *Connection) timeSinceLastAck() time.Duration {
	c.lastAckMutex.RLock()
	defer c.lastAckMutex.RUnlock()
	return time.Since(c.lastAck)
}

// heartbeatLoop sends periodic heartbeats and gives up when the server
// stops acknowledging them
func (c *Connection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendHeartbeat(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send heartbeat")
				return
			}
			if c.timeSinceLastAck() > c.pongTimeout {
				c.logger.Warn().Msg("No ack received, connection appears dead")
				return
			}
		}
	}
}

func (c *Connection) sendHeartbeat() error {
	msg, err := models.NewMessage(models.MessageTypeHeartbeat, models.HeartbeatMessage{
		NodeID:     c.nodeInfo.ID,
		Uptime:     int64(c.nodeInfo.Uptime().Seconds()),
		BufferSize: c.bufferSize(),
	})
	if err != nil {
		return err
	}
	return c.sendMessage(msg)
}

// Close stops Run and closes the socket with a normal closure frame
func (c *Connection) Close() error {
	c.logger.Info().Msg("Closing connection")
	c.stopOnce.Do(func() { close(c.stopChan) })

	c.stateMutex.Lock()
	conn := c.conn
	c.stateMutex.Unlock()

	if conn != nil {
		c.writeMutex.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMutex.Unlock()
		conn.Close()
	}

	c.setState(StateDisconnected)
	return nil
}
