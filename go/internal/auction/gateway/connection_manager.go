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
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/codebid/go/internal/auction/events"
	"github.com/mcdev12/codebid/go/internal/models"
)

// TeamSessions is the store side of the one-connection-per-team rule
type TeamSessions interface {
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	SwapActiveConnection(ctx context.Context, teamID uuid.UUID, connID string) (*string, error)
	ClearActiveConnection(ctx context.Context, teamID uuid.UUID, connID string) (bool, error)
}

// Restorer pushes the current round snapshot to one connection
type Restorer interface {
	RestoreConnection(ctx context.Context, identity models.Identity, connectionID string)
}

// ConnectionManager manages WebSocket connections for the auction
type ConnectionManager struct {
	// Live connections by ID, and the team connection currently bound to each team
	connections map[string]*Connection
	teamConns   map[uuid.UUID]*Connection
	mu          sync.RWMutex

	// Per-team locks held from the binding swap through registration
	loginLocks sync.Map

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Event broadcasting, drained in order by Start
	broadcastCh chan BroadcastMessage

	sessions TeamSessions
	commands *CommandRouter
	restorer Restorer
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID       string
	Identity models.Identity
	Conn     *websocket.Conn
	Manager  *ConnectionManager

	send    chan []byte
	sendMu  sync.Mutex
	closed  bool
	limiter *rate.Limiter

	// Connection metadata
	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CommandTimeout  time.Duration
	// Inbound command flood control per connection
	CommandRate  rate.Limit
	CommandBurst int
	CheckOrigin  func(r *http.Request) bool
}

// BroadcastMessage represents a message to deliver to an audience
type BroadcastMessage struct {
	To    events.Audience
	Event *events.Event
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CommandTimeout:  5 * time.Second,
		CommandRate:     rate.Limit(10),
		CommandBurst:    20,
		CheckOrigin: func(r *http.Request) bool {
			// Origins are enforced by the CORS layer
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, sessions TeamSessions) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		teamConns:   make(map[uuid.UUID]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000), // Buffer for bursts of ticks and bids
		sessions:    sessions,
	}
}

// SetCommandRouter wires inbound command handling.
func (cm *ConnectionManager) SetCommandRouter(r *CommandRouter) {
	cm.commands = r
}

// SetRestorer wires the snapshot sent to every new connection.
func (cm *ConnectionManager) SetRestorer(r Restorer) {
	cm.restorer = r
}

// Start processes broadcast messages until ctx is done, then closes every
// connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.safeBroadcast(message)
		}
	}
}

// Publish queues an event for delivery. It never blocks; a full queue drops
// the event.
func (cm *ConnectionManager) Publish(to events.Audience, event *events.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{To: to, Event: event}:
	default:
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("scope", to.Scope.String()).
			Msg("broadcast channel full, dropping message")
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and binds it to
// identity. A team's previous connection is logged out.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, identity models.Identity) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Identity:    identity,
		Conn:        conn,
		Manager:     cm,
		send:        make(chan []byte, cm.config.SendBufferSize),
		limiter:     rate.NewLimiter(cm.config.CommandRate, cm.config.CommandBurst),
		ConnectedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), cm.config.CommandTimeout)
	defer cancel()

	if identity.IsTeam() {
		if err := cm.bindTeam(ctx, connection); err != nil {
			conn.Close()
			return fmt.Errorf("failed to bind team connection: %w", err)
		}
	} else {
		cm.registerConnection(connection)
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("role", string(identity.Role)).
		Str("team_id", teamIDString(identity)).
		Msg("WebSocket connection established")

	if identity.IsTeam() {
		cm.publishOnlineCount()
	}
	if cm.restorer != nil {
		cm.restorer.RestoreConnection(ctx, identity, connection.ID)
	}
	return nil
}

// bindTeam makes conn the team's only connection in the store and in the
// registry. Logins for one team run through here one at a time, so the
// registry always ends on the connection the store holds.
func (cm *ConnectionManager) bindTeam(ctx context.Context, conn *Connection) error {
	lock := cm.loginLock(conn.Identity.TeamID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := cm.sessions.SwapActiveConnection(ctx, conn.Identity.TeamID, conn.ID)
	if err != nil {
		return err
	}
	if prev != nil && *prev != conn.ID {
		cm.kickConnection(*prev, "logged in from another device")
	}
	cm.registerConnection(conn)
	return nil
}

func (cm *ConnectionManager) loginLock(teamID uuid.UUID) *sync.Mutex {
	lock, _ := cm.loginLocks.LoadOrStore(teamID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// KickTeam sends a forced logout to the team's live connection and closes it.
func (cm *ConnectionManager) KickTeam(teamID uuid.UUID, reason string) {
	cm.mu.RLock()
	conn, ok := cm.teamConns[teamID]
	cm.mu.RUnlock()
	if !ok {
		return
	}
	cm.kick(conn, reason)
}

// TeamsOnline returns the number of connected teams.
func (cm *ConnectionManager) TeamsOnline() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.teamConns)
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn
	if conn.Identity.IsTeam() {
		cm.teamConns[conn.Identity.TeamID] = conn
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager and closes its
// send channel. It reports whether the connection was still registered.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn.ID]; !exists {
		return false
	}
	delete(cm.connections, conn.ID)
	if conn.Identity.IsTeam() && cm.teamConns[conn.Identity.TeamID] == conn {
		delete(cm.teamConns, conn.Identity.TeamID)
	}
	conn.closeSend()

	log.Info().
		Str("connection_id", conn.ID).
		Str("team_id", teamIDString(conn.Identity)).
		Msg("connection unregistered")
	return true
}

// disconnect unregisters conn and releases its team binding if it still
// holds it.
func (cm *ConnectionManager) disconnect(conn *Connection) {
	if !cm.unregisterConnection(conn) {
		return
	}
	if !conn.Identity.IsTeam() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.CommandTimeout)
	defer cancel()
	cleared, err := cm.sessions.ClearActiveConnection(ctx, conn.Identity.TeamID, conn.ID)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to clear active connection")
	} else if !cleared {
		log.Debug().Str("connection_id", conn.ID).Msg("connection already superseded")
	}
	cm.publishOnlineCount()
}

func (cm *ConnectionManager) kickConnection(connID, reason string) {
	cm.mu.RLock()
	conn, ok := cm.connections[connID]
	cm.mu.RUnlock()
	if ok {
		cm.kick(conn, reason)
	}
}

// kick queues a force-logout directly on the connection, ahead of anything
// still in the broadcast queue, then closes it.
func (cm *ConnectionManager) kick(conn *Connection, reason string) {
	e, err := events.New(events.TypeForceLogout, uuid.Nil, events.ForceLogoutPayload{Reason: reason})
	if err == nil {
		if data, err := json.Marshal(e); err == nil {
			conn.enqueue(data)
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("team_id", teamIDString(conn.Identity)).
		Str("reason", reason).
		Msg("connection kicked")

	// The write pump flushes the logout and closes the socket once send is closed.
	cm.disconnect(conn)
}

func (cm *ConnectionManager) publishOnlineCount() {
	events.Emit(cm, events.ToAdmins(), events.TypeTeamsOnline, uuid.Nil, events.TeamsOnlinePayload{
		Count: cm.TeamsOnline(),
	})
}

func (cm *ConnectionManager) safeBroadcast(message BroadcastMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event_type", string(message.Event.Type)).Msg("broadcast panicked")
		}
	}()
	cm.handleBroadcast(message)
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	// Snapshot the targets to avoid holding the lock while sending
	var targets []*Connection
	for _, conn := range cm.connections {
		if matches(message.To, conn) {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	// Marshal the event once
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if !conn.enqueue(eventData) {
			// Connection is slow or dead, drop it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("team_id", teamIDString(conn.Identity)).
				Msg("connection send buffer full, closing connection")
			go cm.disconnect(conn)
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("scope", message.To.Scope.String()).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

func matches(to events.Audience, conn *Connection) bool {
	switch to.Scope {
	case events.ScopeAll:
		return true
	case events.ScopeAdmins:
		return conn.Identity.IsAdmin()
	case events.ScopeTeams:
		return conn.Identity.IsTeam()
	case events.ScopeTeam:
		return conn.Identity.IsTeam() && conn.Identity.TeamID == to.TeamID
	case events.ScopeConnection:
		return conn.ID == to.ConnectionID
	}
	return false
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		cm.disconnect(c)
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	admins := 0
	for _, c := range cm.connections {
		if c.Identity.IsAdmin() {
			admins++
		}
	}

	return map[string]interface{}{
		"total_connections": len(cm.connections),
		"team_connections":  len(cm.teamConns),
		"admin_connections": admins,
		"queued_events":     len(cm.broadcastCh),
	}
}

// enqueue hands data to the write pump without blocking. It reports false
// when the buffer is full or the connection is closed.
func (c *Connection) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("connection_id", c.ID).Msg("write pump panicked")
		}
		ticker.Stop()
		c.Conn.Close()
		go c.Manager.disconnect(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
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
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("connection_id", c.ID).Msg("read pump panicked")
		}
		c.Manager.disconnect(c)
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
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
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func teamIDString(identity models.Identity) string {
	if !identity.IsTeam() {
		return ""
	}
	return identity.TeamID.String()
}
