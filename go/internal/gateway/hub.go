package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Coordinator is what the hub needs from the session coordinator.
type Coordinator interface {
	Authenticate(ctx context.Context, roomID, participantID, token string) (*models.Participant, error)
	Announce(ctx context.Context, roomID string) error
	SubmitVote(ctx context.Context, in rooms.VoteInput) (*models.Vote, error)
	Reveal(ctx context.Context, roomID string) (*models.RoomSnapshot, error)
	NextRound(ctx context.Context, roomID string, description *string) (*models.RoomSnapshot, error)
	Kick(ctx context.Context, actor models.Actor, roomID, participantID string) (*models.RoomSnapshot, error)
	ResolveActor(ctx context.Context, roomID, participantID, token string, identity models.Identity) (models.Actor, error)
}

// Hub owns every websocket connection of this process and fans room events
// out to the connections bound to that room.
type Hub struct {
	// Connections bound to a room, by room id
	rooms map[string]map[*Connection]struct{}
	// Every live connection, bound or not
	conns map[*Connection]struct{}
	mu    sync.RWMutex

	upgrader    websocket.Upgrader
	config      ConnectionConfig
	coordinator Coordinator
	metrics     *hubMetrics

	broadcastCh chan rooms.RoomEvent
	pumps       sync.WaitGroup

	// Events that did not fit in broadcastCh, by room id. While any are
	// pending, new events join them so the queue only holds older events.
	pendingMu sync.Mutex
	pending   map[string]*pendingEvents
	wake      chan struct{}
}

// pendingEvents keeps the newest event of a room and the kicks before it.
type pendingEvents struct {
	kicks  []rooms.RoomEvent
	latest rooms.RoomEvent
}

// Connection is one websocket client.
type Connection struct {
	ID       string
	Conn     *websocket.Conn
	Send     chan []byte
	Identity models.Identity
	hub      *Hub

	mu            sync.Mutex
	roomID        string
	participantID string
	token         string

	done      chan struct{}
	closeOnce sync.Once

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	ActionTimeout   time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	EventBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Registerer      prometheus.Registerer
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		ActionTimeout:   10 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  64,
		EventBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewHub creates a hub. The coordinator may be set later with SetCoordinator
// but must be set before connections are accepted.
func NewHub(config ConnectionConfig, coordinator Coordinator) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Connection]struct{}),
		conns: make(map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		coordinator: coordinator,
		metrics:     newHubMetrics(config.Registerer),
		broadcastCh: make(chan rooms.RoomEvent, config.EventBufferSize),
		pending:     make(map[string]*pendingEvents),
		wake:        make(chan struct{}, 1),
	}
}

func (h *Hub) SetCoordinator(c Coordinator) {
	h.coordinator = c
}

// Start processes room events until ctx is done, then closes every connection
// and waits for their pumps to exit.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			log.Info().Msg("websocket hub stopped")
			return
		case event := <-h.broadcastCh:
			h.handleEvent(event)
		case <-h.wake:
			h.flushPending()
		}
	}
}

// Publish queues a room event for fan-out. It never blocks; when the queue is
// full only the newest snapshot of each room is kept, along with any kicks.
func (h *Hub) Publish(_ context.Context, event rooms.RoomEvent) error {
	h.Deliver(event)
	return nil
}

// Deliver queues an event received from another instance.
func (h *Hub) Deliver(event rooms.RoomEvent) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	if len(h.pending) == 0 {
		select {
		case h.broadcastCh <- event:
			return
		default:
			log.Warn().Str("room_id", event.RoomID).Msg("broadcast channel full, coalescing room events")
		}
	}

	p, ok := h.pending[event.RoomID]
	if !ok {
		h.pending[event.RoomID] = &pendingEvents{latest: event}
	} else {
		if p.latest.Type == rooms.EventParticipantKicked {
			p.kicks = append(p.kicks, p.latest)
		} else {
			h.metrics.dropped.WithLabelValues("coalesced").Inc()
		}
		p.latest = event
	}
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// flushPending fans out the queued events first, then the pending ones.
// Nothing enters broadcastCh while events are pending, so the drain ends.
func (h *Hub) flushPending() {
drain:
	for {
		select {
		case event := <-h.broadcastCh:
			h.handleEvent(event)
		default:
			break drain
		}
	}

	h.pendingMu.Lock()
	pending := h.pending
	h.pending = make(map[string]*pendingEvents)
	h.pendingMu.Unlock()

	for _, p := range pending {
		for _, kick := range p.kicks {
			h.handleEvent(kick)
		}
		h.handleEvent(p.latest)
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (h *Hub) UpgradeConnection(w http.ResponseWriter, r *http.Request, identity models.Identity) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}
	if identity == nil {
		identity = models.Anonymous{}
	}

	c := &Connection{
		ID:          uuid.NewString(),
		Conn:        conn,
		Send:        make(chan []byte, h.config.SendBufferSize),
		Identity:    identity,
		hub:         h,
		done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.connections.Inc()

	h.pumps.Add(2)
	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("identity", string(c.Identity.Kind())).
		Msg("WebSocket connection established")
	return nil
}

// bind attaches the connection to a room, detaching it from any previous one.
func (h *Hub) bind(c *Connection, roomID, participantID, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unbindLocked(c)
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Connection]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	c.setBinding(roomID, participantID, token)
	h.metrics.rooms.Set(float64(len(h.rooms)))

	log.Debug().
		Str("connection_id", c.ID).
		Str("room_id", roomID).
		Str("participant_id", participantID).
		Int("room_connections", len(h.rooms[roomID])).
		Msg("connection bound")
}

func (h *Hub) unbind(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbindLocked(c)
}

func (h *Hub) unbindLocked(c *Connection) {
	roomID, _ := c.binding()
	if roomID == "" {
		return
	}
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
	c.setBinding("", "", "")
	h.metrics.rooms.Set(float64(len(h.rooms)))
}

// unregister forgets the connection entirely. Safe to call more than once.
func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	_, live := h.conns[c]
	delete(h.conns, c)
	h.unbindLocked(c)
	h.mu.Unlock()

	if live {
		h.metrics.connections.Dec()
		log.Info().Str("connection_id", c.ID).Msg("connection unregistered")
	}
	c.close()
}

func (h *Hub) handleEvent(event rooms.RoomEvent) {
	if event.Snapshot == nil {
		return
	}

	h.mu.Lock()
	var kicked []*Connection
	if event.Type == rooms.EventParticipantKicked && event.ParticipantID != "" {
		for c := range h.rooms[event.RoomID] {
			if _, pid := c.binding(); pid == event.ParticipantID {
				kicked = append(kicked, c)
			}
		}
		for _, c := range kicked {
			h.unbindLocked(c)
		}
	}
	targets := make([]*Connection, 0, len(h.rooms[event.RoomID]))
	for c := range h.rooms[event.RoomID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	if len(kicked) > 0 {
		frame, err := Encode(MessageKicked, KickedPayload{RoomID: event.RoomID})
		if err == nil {
			for _, c := range kicked {
				h.send(c, frame)
			}
		}
		log.Info().
			Str("room_id", event.RoomID).
			Str("participant_id", event.ParticipantID).
			Int("connections", len(kicked)).
			Msg("kicked participant disconnected from room")
	}

	// Marshal the snapshot once
	frame, err := Encode(MessageRoomUpdate, event.Snapshot)
	if err != nil {
		log.Error().Err(err).Str("room_id", event.RoomID).Msg("failed to marshal room snapshot")
		return
	}
	for _, c := range targets {
		h.send(c, frame)
	}
	h.metrics.broadcasts.Inc()

	log.Debug().
		Str("event_type", string(event.Type)).
		Str("room_id", event.RoomID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// send queues a frame without blocking. A connection whose buffer is full is
// too slow to keep up and gets disconnected.
func (h *Hub) send(c *Connection, frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.Send <- frame:
		h.metrics.messages.Inc()
	default:
		h.metrics.dropped.WithLabelValues("slow_consumer").Inc()
		log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, closing connection")
		h.unregister(c)
	}
}

func (h *Hub) shutdown() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.unregister(c)
	}
	h.pumps.Wait()
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetConnectionStats returns statistics about active connections
func (h *Hub) GetConnectionStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(h.conns),
		ActiveRooms:      len(h.rooms),
		RoomConnections:  make(map[string]int, len(h.rooms)),
	}
	for roomID, conns := range h.rooms {
		stats.RoomConnections[roomID] = len(conns)
	}
	return stats
}

func (c *Connection) binding() (roomID, participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.participantID
}

func (c *Connection) setBinding(roomID, participantID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID, c.participantID, c.token = roomID, participantID, token
}

func (c *Connection) sessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.hub.config.WriteTimeout)
		_ = c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.Conn.Close()
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c)
		c.hub.pumps.Done()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.hub.pumps.Done()
	}()

	c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}

// reply queues a frame for this connection only.
func (c *Connection) reply(t MessageType, payload any) {
	frame, err := Encode(t, payload)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to encode reply")
		return
	}
	c.hub.send(c, frame)
}

func (c *Connection) replyError(request MessageType, err error) {
	c.reply(MessageError, ErrorPayload{Message: err.Error(), Request: request})
}

// decodeEnvelope is split out for tests.
func decodeEnvelope(message []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return env, fmt.Errorf("malformed message: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("malformed message: missing type")
	}
	return env, nil
}
