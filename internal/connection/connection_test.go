package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// dialPair spins up an httptest server that upgrades every request and
// returns a client-side *websocket.Conn plus the Manager-registered
// connection it produced on the server side.
func dialPair(t *testing.T, m *Manager, register func(*Manager, *websocket.Conn) *Conn) (*websocket.Conn, *Conn) {
	t.Helper()

	connCh := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- register(m, ws)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-connCh:
		return client, conn
	case <-time.After(2 * time.Second):
		t.Fatal("server never registered connection")
		return nil, nil
	}
}

func TestAddAgentConnectionAndSend(t *testing.T) {
	m := New(zerolog.Nop())
	agentID := uuid.New()

	client, _ := dialPair(t, m, func(m *Manager, ws *websocket.Conn) *Conn {
		return m.AddAgentConnection(agentID, ws)
	})

	assert.True(t, m.IsAgentConnected(agentID))
	assert.True(t, m.SendToAgent(agentID, []byte("hello")))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSendToAgentUnknownReturnsFalse(t *testing.T) {
	m := New(zerolog.Nop())
	assert.False(t, m.SendToAgent(uuid.New(), []byte("x")))
}

func TestAddAgentConnectionDisplacesPrior(t *testing.T) {
	m := New(zerolog.Nop())
	agentID := uuid.New()

	firstClient, firstConn := dialPair(t, m, func(m *Manager, ws *websocket.Conn) *Conn {
		return m.AddAgentConnection(agentID, ws)
	})
	_, secondConn := dialPair(t, m, func(m *Manager, ws *websocket.Conn) *Conn {
		return m.AddAgentConnection(agentID, ws)
	})

	assert.NotEqual(t, firstConn.ID, secondConn.ID)

	// The displaced connection is closed; its done channel should close.
	select {
	case <-firstConn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("displaced connection was never closed")
	}

	firstClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := firstClient.ReadMessage()
	assert.Error(t, err)
}

func TestRemoveConnection(t *testing.T) {
	m := New(zerolog.Nop())
	agentID := uuid.New()

	_, conn := dialPair(t, m, func(m *Manager, ws *websocket.Conn) *Conn {
		return m.AddAgentConnection(agentID, ws)
	})

	m.RemoveConnection(conn)
	assert.False(t, m.IsAgentConnected(agentID))

	// Idempotent: removing again must not panic.
	m.RemoveConnection(conn)
}

func TestSendToAllDashboardsFansOutToEveryClient(t *testing.T) {
	m := New(zerolog.Nop())
	userA, userB := uuid.New(), uuid.New()

	clientA, _ := dialPair(t, m, func(m *Manager, ws *websocket.Conn) *Conn {
		return m.AddDashboardConnection(userA, ws)
	})
	clientB, _ := dialPair(t, m, func(m *Manager, ws *websocket.Conn) *Conn {
		return m.AddDashboardConnection(userB, ws)
	})

	delivered := m.SendToAllDashboards([]byte("broadcast"))
	assert.Equal(t, 2, delivered)

	for _, c := range []*websocket.Conn{clientA, clientB} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "broadcast", string(data))
	}
}

func TestSendToUserDashboardsOnlyTargetsThatUser(t *testing.T) {
	m := New(zerolog.Nop())
	userA, userB := uuid.New(), uuid.New()

	clientA, _ := dialPair(t, m, func(m *Manager, ws *websocket.Conn) *Conn {
		return m.AddDashboardConnection(userA, ws)
	})
	clientB, _ := dialPair(t, m, func(m *Manager, ws *websocket.Conn) *Conn {
		return m.AddDashboardConnection(userB, ws)
	})

	delivered := m.SendToUserDashboards(userA, []byte("for-a-only"))
	assert.Equal(t, 1, delivered)

	clientA.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientA.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "for-a-only", string(data))

	clientB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = clientB.ReadMessage()
	assert.Error(t, err, "user B must not receive user A's message")
}

func TestConnectionCount(t *testing.T) {
	m := New(zerolog.Nop())
	dialPair(t, m, func(m *Manager, ws *websocket.Conn) *Conn {
		return m.AddAgentConnection(uuid.New(), ws)
	})
	dialPair(t, m, func(m *Manager, ws *websocket.Conn) *Conn {
		return m.AddDashboardConnection(uuid.New(), ws)
	})

	agents, dashboards := m.ConnectionCount()
	assert.Equal(t, 1, agents)
	assert.Equal(t, 1, dashboards)
}
