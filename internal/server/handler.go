package server

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/models"
	"github.com/afroash/krishi-monitor/internal/observability"
)

// Ack statuses
const (
	AckOK       = "ok"
	AckRejected = "rejected"
)

// Constants for WebSocket timeouts
const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Handler manages WebSocket connections from field nodes
type Handler struct {
	upgrader       websocket.Upgrader
	authToken      string
	store          ReadingStore
	metrics        *observability.Metrics
	logger         zerolog.Logger
	activeNodes    map[string]*NodeConnection // keyed by remote address
	allowedOrigins []string
	mutex          sync.RWMutex
}

// NodeConnection represents an active field-node connection
type NodeConnection struct {
	NodeID      string    `json:"nodeId"`
	RemoteAddr  string    `json:"remoteAddr"`
	LastSeen    time.Time `json:"lastSeen"`
	ConnectedAt time.Time `json:"connectedAt"`
	BufferSize  int       `json:"bufferSize"`
}

// NewHandler creates a new WebSocket handler
func NewHandler(authToken string, store ReadingStore, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		authToken:      authToken,
		store:          store,
		logger:         logger,
		activeNodes:    make(map[string]*NodeConnection),
		allowedOrigins: allowedOrigins,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// SetMetrics sets the metrics sink
func (h *Handler) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

// checkOrigin validates the request's Origin against the allowlist.
// Requests without an Origin header are same-origin and always allowed.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(h.allowedOrigins, origin) {
		return true
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected format: "Bearer <token>"
	if !h.validateToken(r.Header.Get("Authorization")) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	h.handleConnection(conn)
}

func (h *Handler) validateToken(authHeader string) bool {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || h.authToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) == 1
}

// handleConnection manages a single WebSocket connection
func (h *Handler) handleConnection(conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()

	h.mutex.Lock()
	h.activeNodes[connKey] = &NodeConnection{
		NodeID:      connKey, // replaced by the first heartbeat
		RemoteAddr:  connKey,
		LastSeen:    now,
		ConnectedAt: now,
	}
	h.mutex.Unlock()

	defer conn.Close()
	defer h.removeNode(connKey)

	h.logger.Info().Str("remote", connKey).Msg("Field node connected")

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("remote", connKey).Msg("WebSocket error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.sendAck(conn, h.handleMessage(connKey, &msg))
	}
}

// handleMessage processes one envelope and returns the ack status for it
func (h *Handler) handleMessage(connKey string, msg *models.Message) string {
	h.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")
	h.touch(connKey)

	switch msg.Type {
	case models.MessageTypeReading:
		return h.handleReading(msg)
	case models.MessageTypeBatch:
		return h.handleBatch(msg)
	case models.MessageTypeHeartbeat:
		return h.handleHeartbeat(connKey, msg)
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		return AckRejected
	}
}

func (h *Handler) handleReading(msg *models.Message) string {
	var reading models.Reading
	if err := msg.UnmarshalPayload(&reading); err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal reading")
		return AckRejected
	}
	if !h.storeReading(&reading) {
		h.logger.Warn().Str("reading", reading.String()).Msg("Reading ignored: invalid")
		return AckRejected
	}

	h.logger.Info().
		Str("sensor_id", reading.SensorID).
		Float64("soil_moisture", reading.SoilMoisture).
		Float64("temperature", reading.Temperature).
		Float64("humidity", reading.Humidity).
		Msg("Reading stored")
	return AckOK
}

// handleBatch stores every valid reading of a batch. The batch is rejected
// only when none of its readings could be stored.
func (h *Handler) handleBatch(msg *models.Message) string {
	var batch models.BatchMessage
	if err := msg.UnmarshalPayload(&batch); err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal batch")
		return AckRejected
	}

	stored := 0
	for i := range batch.Readings {
		if h.storeReading(&batch.Readings[i]) {
			stored++
		}
	}
	h.logger.Info().Int("count", len(batch.Readings)).Int("stored", stored).Msg("Batch stored")

	if stored == 0 && len(batch.Readings) > 0 {
		return AckRejected
	}
	return AckOK
}

func (h *Handler) handleHeartbeat(connKey string, msg *models.Message) string {
	var heartbeat models.HeartbeatMessage
	if err := msg.UnmarshalPayload(&heartbeat); err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal heartbeat")
		return AckRejected
	}

	h.mutex.Lock()
	if node, ok := h.activeNodes[connKey]; ok {
		if heartbeat.NodeID != "" {
			node.NodeID = heartbeat.NodeID
		}
		node.BufferSize = heartbeat.BufferSize
	}
	h.mutex.Unlock()

	h.logger.Debug().
		Str("node_id", heartbeat.NodeID).
		Int64("uptime", heartbeat.Uptime).
		Int("buffer_size", heartbeat.BufferSize).
		Msg("Heartbeat received")
	return AckOK
}

func (h *Handler) storeReading(reading *models.Reading) bool {
	if !reading.IsValid() {
		return false
	}
	h.store.Add(reading)
	h.metrics.StreamReading()
	return true
}

// sendAck acknowledges the last message under a fresh message id
func (h *Handler) sendAck(conn *websocket.Conn, status string) {
	msg, err := models.NewMessage(models.MessageTypeAck, models.AckMessage{
		MessageID: uuid.NewString(),
		Status:    status,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create ack message")
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send ack")
	}
}

func (h *Handler) touch(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if node, ok := h.activeNodes[connKey]; ok {
		node.LastSeen = time.Now()
	}
}

func (h *Handler) removeNode(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	nodeID := connKey
	if node, ok := h.activeNodes[connKey]; ok {
		nodeID = node.NodeID
	}
	delete(h.activeNodes, connKey)
	h.logger.Info().Str("node_id", nodeID).Msg("Field node disconnected")
}

// GetActiveNodes returns a snapshot of the connected field nodes
func (h *Handler) GetActiveNodes() []NodeConnection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	nodes := make([]NodeConnection, 0, len(h.activeNodes))
	for _, node := range h.activeNodes {
		nodes = append(nodes, *node)
	}
	slices.SortFunc(nodes, func(a, b NodeConnection) int { return strings.Compare(a.NodeID, b.NodeID) })
	return nodes
}
