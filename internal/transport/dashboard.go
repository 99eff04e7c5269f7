package transport

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/connection"
	"github.com/sentrygrid/coreplane/internal/middleware"
)

// DashboardHandler upgrades /ws/dashboard connections (spec §6: "Dashboard
// connect URL: /ws/dashboard?token=<signed-session-token> ... Server
// verifies signature and user existence"). Dashboards only receive; they
// never send application frames, so the read pump exists purely to detect
// disconnects and answer pings.
type DashboardHandler struct {
	conns    *connection.Manager
	sessions middleware.SessionStore
	logger   zerolog.Logger
}

// NewDashboardHandler creates a dashboard transport handler.
func NewDashboardHandler(conns *connection.Manager, sessions middleware.SessionStore, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{conns: conns, sessions: sessions, logger: logger}
}

// ServeHTTP upgrades the connection and blocks until the client disconnects.
func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return
	}

	userID, err := h.sessions.VerifySession(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("dashboard websocket upgrade failed")
		return
	}

	conn := h.conns.AddDashboardConnection(userID, ws)
	h.readPump(conn)
}

func (h *DashboardHandler) readPump(conn *connection.Conn) {
	defer h.conns.RemoveConnection(conn)

	ws := conn.WS()
	ws.SetReadLimit(64 * 1024)
	ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		ws.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		conn.Touch()
	}
}
