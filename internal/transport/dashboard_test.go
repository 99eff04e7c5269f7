package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrygrid/coreplane/internal/connection"
)

type stubSessionStore struct {
	userID uuid.UUID
	err    error
}

func (s stubSessionStore) VerifySession(ctx context.Context, token string) (uuid.UUID, error) {
	return s.userID, s.err
}

func TestDashboardTransportRejectsMissingToken(t *testing.T) {
	h := NewDashboardHandler(connection.New(zerolog.Nop()), stubSessionStore{}, zerolog.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDashboardTransportRejectsInvalidSession(t *testing.T) {
	h := NewDashboardHandler(connection.New(zerolog.Nop()), stubSessionStore{err: assert.AnError}, zerolog.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?token=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDashboardTransportUpgradesWithValidSession(t *testing.T) {
	h := NewDashboardHandler(connection.New(zerolog.Nop()), stubSessionStore{userID: uuid.New()}, zerolog.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=good"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	assert.NoError(t, conn.Close())
}
