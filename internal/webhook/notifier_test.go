package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNotifyCriticalSkipsUnconfiguredDestinations(t *testing.T) {
	n := NewNotifier("", "", zerolog.Nop())
	assert.NotPanics(t, func() {
		n.NotifyCritical(context.Background(), "title", "message", "dedup")
	})
}

func TestNotifyDegradedSkipsWithoutSlackURL(t *testing.T) {
	n := NewNotifier("", "", zerolog.Nop())
	assert.NotPanics(t, func() {
		n.NotifyDegraded(context.Background(), "title", "message")
	})
}

func TestNotifyDegradedPostsToSlackWhenConfigured(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "", zerolog.Nop())
	n.NotifyDegraded(context.Background(), "degraded", "queue depth rising")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestNotifyCriticalPostsToBothDestinationsWhenConfigured(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "", zerolog.Nop())
	n.pagerDuty = &PagerDutyClient{httpClient: srv.Client(), baseURL: srv.URL}
	n.pagerDutyRouting = "routing-key"

	n.NotifyCritical(context.Background(), "emergency stop", "agent-123 isolated", "dedup-1")
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
