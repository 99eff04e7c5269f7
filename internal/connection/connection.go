// Package connection manages live websocket transports for agents and
// dashboards: registration with at-most-one-connection-per-agent
// displacement, removal, and message delivery (spec §4.4). Grounded on the
// teacher's agent.Manager read/write-pump pattern (internal/agent/manager.go).
package connection

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// Conn is one live websocket transport, either an agent or a dashboard
// client, with a buffered outbound channel drained by writePump.
type Conn struct {
	ID       uuid.UUID
	Identity domain.ConnectionIdentity

	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger zerolog.Logger

	mu           sync.Mutex
	connectedAt  time.Time
	lastActiveAt time.Time
	closeOnce    sync.Once

	// spillMu/spill hold commands that could not fit the bounded send
	// channel. Commands are never dropped (spec §5): they spill into this
	// unbounded side-list, logged as BackpressureSpill, and are drained
	// into send as room frees up.
	spillMu sync.Mutex
	spill   [][]byte
}

// Manager tracks the registry of live connections. Agent connections are
// keyed by agent ID with CAS displacement; dashboard connections are keyed
// by their own connection ID and fanned out to by user ID.
type Manager struct {
	logger zerolog.Logger

	mu          sync.RWMutex
	agents      map[uuid.UUID]*Conn // agent_id -> connection
	dashboards  map[uuid.UUID]*Conn // connection_id -> connection
	byUser      map[uuid.UUID]map[uuid.UUID]struct{}
}

// New creates an empty connection registry.
func New(logger zerolog.Logger) *Manager {
	return &Manager{
		logger:     logger,
		agents:     make(map[uuid.UUID]*Conn),
		dashboards: make(map[uuid.UUID]*Conn),
		byUser:     make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// AddAgentConnection registers ws as the live connection for agentID,
// atomically displacing any prior connection for the same agent (spec §4.4
// invariant: at most one live connection per agent_id). The displaced
// connection, if any, is closed after the new one is installed so a racing
// write to the old socket never silently succeeds.
func (m *Manager) AddAgentConnection(agentID uuid.UUID, ws *websocket.Conn) *Conn {
	conn := &Conn{
		ID:           uuid.New(),
		Identity:     domain.ConnectionIdentity{Kind: domain.ConnectionKindAgent, AgentID: agentID},
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		logger:       m.logger,
		connectedAt:  time.Now(),
		lastActiveAt: time.Now(),
	}

	m.mu.Lock()
	prev := m.agents[agentID]
	m.agents[agentID] = conn
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info().Str("agent_id", agentID.String()).Msg("displacing prior agent connection")
		prev.close()
	}

	go m.writePump(conn)
	return conn
}

// AddDashboardConnection registers a dashboard websocket under userID.
// Unlike agents, a user may have many simultaneous dashboard connections
// (different browser tabs): no displacement occurs.
func (m *Manager) AddDashboardConnection(userID uuid.UUID, ws *websocket.Conn) *Conn {
	conn := &Conn{
		ID:           uuid.New(),
		Identity:     domain.ConnectionIdentity{Kind: domain.ConnectionKindDashboard, UserID: userID},
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		logger:       m.logger,
		connectedAt:  time.Now(),
		lastActiveAt: time.Now(),
	}

	m.mu.Lock()
	m.dashboards[conn.ID] = conn
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[uuid.UUID]struct{})
	}
	m.byUser[userID][conn.ID] = struct{}{}
	m.mu.Unlock()

	go m.writePump(conn)
	return conn
}

// RemoveConnection unregisters conn. Idempotent: removing an already
// removed connection, or one that was already displaced, is a no-op.
func (m *Manager) RemoveConnection(conn *Conn) {
	if conn == nil {
		return
	}

	m.mu.Lock()
	switch conn.Identity.Kind {
	case domain.ConnectionKindAgent:
		if cur, ok := m.agents[conn.Identity.AgentID]; ok && cur == conn {
			delete(m.agents, conn.Identity.AgentID)
		}
	case domain.ConnectionKindDashboard:
		delete(m.dashboards, conn.ID)
		if set, ok := m.byUser[conn.Identity.UserID]; ok {
			delete(set, conn.ID)
			if len(set) == 0 {
				delete(m.byUser, conn.Identity.UserID)
			}
		}
	}
	m.mu.Unlock()

	conn.close()
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.send)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

// Touch records read activity, used by the read pump in package transport.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastActiveAt = time.Now()
	c.mu.Unlock()
}

// WS exposes the underlying websocket for the read pump, which lives in
// package transport to keep wire decoding out of the connection registry.
func (c *Conn) WS() *websocket.Conn { return c.ws }

// Done signals connection teardown to any goroutine selecting on it.
func (c *Conn) Done() <-chan struct{} { return c.done }

// enqueue delivers data to the connection's buffered outbound channel
// without blocking. A full queue drops the oldest queued message to make
// room for the new one (spec §5); commands are never dropped.
func (c *Conn) enqueue(data []byte) bool {
	return c.enqueueWithKind(data, false)
}

// enqueueCommand is the command variant of enqueue: on a full queue the
// command spills into an unbounded side-list rather than being dropped or
// evicting another message, and is drained back into send as room frees
// up (spec §5: "commands are never dropped ... spill into an unbounded
// side-list logged as BackpressureSpill").
func (c *Conn) enqueueCommand(data []byte) bool {
	return c.enqueueWithKind(data, true)
}

func (c *Conn) enqueueWithKind(data []byte, isCommand bool) bool {
	select {
	case c.send <- data:
		return true
	default:
	}

	if isCommand {
		c.spillMu.Lock()
		c.spill = append(c.spill, data)
		n := len(c.spill)
		c.spillMu.Unlock()
		c.logger.Warn().Str("connection_id", c.ID.String()).Int("spill_depth", n).Msg("BackpressureSpill")
		return true
	}

	// Drop the oldest queued non-command message to make room, per spec
	// §5's "full queue -> drop oldest non-command message".
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// drainSpill moves as many spilled commands as will fit back onto send,
// preserving their original order.
func (c *Conn) drainSpill() {
	c.spillMu.Lock()
	defer c.spillMu.Unlock()
	for len(c.spill) > 0 {
		select {
		case c.send <- c.spill[0]:
			c.spill = c.spill[1:]
		default:
			return
		}
	}
}

func (m *Manager) writePump(conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				m.logger.Warn().Err(err).Str("connection_id", conn.ID.String()).Msg("write error, closing")
				return
			}
			conn.drainSpill()

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			conn.drainSpill()

		case <-conn.done:
			return
		}
	}
}

// SendToAgent delivers data to agentID's live connection, if any. Returns
// false if the agent has no live connection; a full send buffer drops its
// oldest queued message to make room (see enqueue).
func (m *Manager) SendToAgent(agentID uuid.UUID, data []byte) bool {
	m.mu.RLock()
	conn, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return conn.enqueue(data)
}

// SendCommandToAgent is the command variant of SendToAgent: the message
// is never dropped on backpressure, only spilled (spec §5).
func (m *Manager) SendCommandToAgent(agentID uuid.UUID, data []byte) bool {
	m.mu.RLock()
	conn, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return conn.enqueueCommand(data)
}

// SendToAllDashboards fans data out to every connected dashboard client.
func (m *Manager) SendToAllDashboards(data []byte) int {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.dashboards))
	for _, c := range m.dashboards {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if c.enqueue(data) {
			delivered++
		}
	}
	return delivered
}

// SendToUserDashboards fans data out only to userID's dashboard connections.
func (m *Manager) SendToUserDashboards(userID uuid.UUID, data []byte) int {
	m.mu.RLock()
	set := m.byUser[userID]
	conns := make([]*Conn, 0, len(set))
	for id := range set {
		if c, ok := m.dashboards[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if c.enqueue(data) {
			delivered++
		}
	}
	return delivered
}

// ConnectionCount reports the number of live agent and dashboard
// connections.
func (m *Manager) ConnectionCount() (agents int, dashboards int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents), len(m.dashboards)
}

// ConnectedAgents returns the IDs of all agents with a live connection.
func (m *Manager) ConnectedAgents() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	return ids
}

// IsAgentConnected reports whether agentID currently has a live connection.
func (m *Manager) IsAgentConnected(agentID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.agents[agentID]
	return ok
}
