package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrygrid/coreplane/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            "0",
			Env:             "development",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			IdleTimeout:     time.Second,
			ShutdownTimeout: time.Second,
		},
	}
}

func TestNewSetsAddrFromConfig(t *testing.T) {
	s := New(testConfig(), http.NotFoundHandler(), zerolog.Nop())
	assert.Equal(t, ":0", s.Addr())
}

func TestHealthAndReadyAlwaysTrue(t *testing.T) {
	s := New(testConfig(), http.NotFoundHandler(), zerolog.Nop())
	assert.True(t, s.Health())
	assert.True(t, s.Ready())
}

func TestShutdownOnUnstartedServerSucceeds(t *testing.T) {
	s := New(testConfig(), http.NotFoundHandler(), zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestUptimeIsPositive(t *testing.T) {
	assert.True(t, Uptime() >= 0)
}
