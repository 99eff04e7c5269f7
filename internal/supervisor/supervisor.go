// Package supervisor is the Pipeline Supervisor (spec §4.9): periodic
// health scoring, emergency stop/isolate, and a maintenance tick that
// sweeps stale agents and timed-out commands. Scheduling follows
// r3e-network-service_layer's robfig/cron/v3 periodic-job pattern (the
// teacher has no cron dependency of its own).
package supervisor

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/connection"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/messagerouter"
	"github.com/sentrygrid/coreplane/internal/pipeline"
	"github.com/sentrygrid/coreplane/internal/registry"
	"github.com/sentrygrid/coreplane/internal/repository"
	"github.com/sentrygrid/coreplane/internal/webhook"
)

// ProcessingStats is the subset of pipeline.Stats surfaced on
// PipelineHealth (spec §4.9).
type ProcessingStats struct {
	EventsPerSecond     float64 `json:"events_per_second"`
	ProcessingLatencyMs float64 `json:"processing_latency_ms"`
	QueueDepth          int     `json:"queue_depth"`
}

// PipelineHealth is the 30s health-check snapshot (spec §4.9).
type PipelineHealth struct {
	IsHealthy                  bool            `json:"is_healthy"`
	UptimeSeconds              float64         `json:"uptime_seconds"`
	ProcessingStats            ProcessingStats `json:"processing_stats"`
	DatabaseConnectionHealthy  bool            `json:"database_connection_healthy"`
	WebsocketConnectionsActive int             `json:"websocket_connections_active"`
	PerformanceScore           float64         `json:"performance_score"`
	CheckedAt                  time.Time       `json:"checked_at"`
}

// Config tunes the supervisor's tick periods and thresholds.
type Config struct {
	HealthCheckPeriod    time.Duration
	MaintenancePeriod    time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatMultiplier  float64
	CommandTimeout       time.Duration
	AlertCacheMaxAge     time.Duration
}

// Supervisor owns the background health/maintenance schedule and the
// emergency-control operations exposed to the HTTP boundary.
type Supervisor struct {
	cfg    Config
	db     *sql.DB
	logger zerolog.Logger

	conns    *connection.Manager
	router   *messagerouter.Router
	pipe     *pipeline.Pipeline
	agents   *registry.Registry
	commands *repository.CommandRepository
	notifier *webhook.Notifier

	startedAt time.Time
	cron      *cron.Cron

	mu         sync.RWMutex
	lastHealth PipelineHealth
	wasHealthy bool
	stopped    bool
}

// Prometheus gauges are package-level singletons (r3e-network-service_layer's
// pkg/metrics pattern) so constructing more than one Supervisor in a test
// process never re-registers a collector.
var (
	scorePerf = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_performance_score",
		Help: "Pipeline Supervisor performance_score in [0,1].",
	})
	gaugeQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Sum of per-shard event queue depth.",
	})
	gaugeEPS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_events_per_second",
		Help: "EMA-smoothed events processed per second.",
	})
)

func init() {
	prometheus.MustRegister(scorePerf, gaugeQueue, gaugeEPS)
}

// New constructs a Supervisor. Call Start to launch its cron schedule.
// notifier may be nil, in which case degraded-health and emergency events
// are logged but never pushed to Slack/PagerDuty.
func New(cfg Config, db *sql.DB, logger zerolog.Logger, conns *connection.Manager, router *messagerouter.Router, pipe *pipeline.Pipeline, agents *registry.Registry, commands *repository.CommandRepository, notifier *webhook.Notifier) *Supervisor {
	if cfg.HealthCheckPeriod <= 0 {
		cfg.HealthCheckPeriod = 30 * time.Second
	}
	if cfg.MaintenancePeriod <= 0 {
		cfg.MaintenancePeriod = 5 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatMultiplier <= 0 {
		cfg.HeartbeatMultiplier = 3
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Minute
	}
	if cfg.AlertCacheMaxAge <= 0 {
		cfg.AlertCacheMaxAge = 24 * time.Hour
	}

	return &Supervisor{
		cfg:        cfg,
		db:         db,
		logger:     logger,
		conns:      conns,
		router:     router,
		pipe:       pipe,
		agents:     agents,
		commands:   commands,
		notifier:   notifier,
		startedAt:  time.Now(),
		wasHealthy: true,
	}
}

// Start launches the health-check and maintenance cron schedule.
func (s *Supervisor) Start(ctx context.Context) {
	s.cron = cron.New()
	s.cron.AddFunc("@every "+s.cfg.HealthCheckPeriod.String(), func() {
		s.runHealthCheck(ctx)
	})
	s.cron.AddFunc("@every "+s.cfg.MaintenancePeriod.String(), func() {
		s.runMaintenance(ctx)
	})
	s.cron.Start()

	// populate an initial snapshot rather than waiting out the first tick
	s.runHealthCheck(ctx)
}

// Stop halts the background cron schedule.
func (s *Supervisor) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Health returns the most recent health-check snapshot.
func (s *Supervisor) Health() PipelineHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHealth
}

// Stopped reports whether EmergencyStop has been invoked.
func (s *Supervisor) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *Supervisor) databaseHealthy(ctx context.Context) bool {
	if s.db == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

// runHealthCheck computes PipelineHealth (spec §4.9's performance_score
// formula: start at 1.0, subtract 0.3/0.2/0.2/0.4 for latency, throughput,
// queue depth, and DB health respectively, clamped at 0).
func (s *Supervisor) runHealthCheck(ctx context.Context) {
	stats := s.pipe.GetStats()
	dbHealthy := s.databaseHealthy(ctx)
	agentsConnected, dashboardsConnected := s.conns.ConnectionCount()

	score := 1.0
	if stats.ProcessingLatencyMs > 100 {
		score -= 0.3
	}
	if stats.EventsPerSecond < 10 {
		score -= 0.2
	}
	if stats.QueueDepth > 500 {
		score -= 0.2
	}
	if !dbHealthy {
		score -= 0.4
	}
	if score < 0 {
		score = 0
	}

	health := PipelineHealth{
		IsHealthy: score >= 0.5 && dbHealthy,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		ProcessingStats: ProcessingStats{
			EventsPerSecond:     stats.EventsPerSecond,
			ProcessingLatencyMs: stats.ProcessingLatencyMs,
			QueueDepth:          stats.QueueDepth,
		},
		DatabaseConnectionHealthy:  dbHealthy,
		WebsocketConnectionsActive: agentsConnected + dashboardsConnected,
		PerformanceScore:           score,
		CheckedAt:                  time.Now(),
	}

	s.mu.Lock()
	s.lastHealth = health
	transitioned := s.wasHealthy && !health.IsHealthy
	s.wasHealthy = health.IsHealthy
	s.mu.Unlock()

	scorePerf.Set(score)
	gaugeQueue.Set(float64(stats.QueueDepth))
	gaugeEPS.Set(stats.EventsPerSecond)

	if !health.IsHealthy {
		s.logger.Warn().
			Float64("performance_score", score).
			Bool("database_connection_healthy", dbHealthy).
			Msg("pipeline health degraded")
		if transitioned && s.notifier != nil {
			s.notifier.NotifyDegraded(ctx, "Pipeline health degraded",
				"performance_score dropped below 0.5, see /pipeline/status for details")
		}
	}
}

// runMaintenance implements the 5-minute tick (spec §4.9): marks
// long-idle agents Offline, sweeps stuck commands into Timeout, and logs
// current stats. Active-alert cache trimming is the correlation engine's
// own LRU eviction, so this tick only logs a reminder of the cutoff.
func (s *Supervisor) runMaintenance(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.HeartbeatMultiplier) * s.cfg.HeartbeatInterval)
	if s.agents != nil {
		if n, err := s.agents.MarkStaleOffline(ctx, cutoff); err != nil {
			s.logger.Error().Err(err).Msg("maintenance: mark stale agents offline failed")
		} else if n > 0 {
			s.logger.Info().Int64("count", n).Msg("maintenance: marked stale agents offline")
		}
	}

	if n, err := s.sweepTimedOutCommands(ctx); err != nil {
		s.logger.Error().Err(err).Msg("maintenance: command timeout sweep failed")
	} else if n > 0 {
		s.logger.Info().Int64("count", n).Msg("maintenance: swept timed-out commands")
	}

	stats := s.pipe.GetStats()
	s.logger.Info().
		Float64("events_per_second", stats.EventsPerSecond).
		Int64("total_processed", stats.TotalProcessed).
		Float64("error_rate_percent", stats.ErrorRatePercent).
		Dur("alert_cache_max_age", s.cfg.AlertCacheMaxAge).
		Msg("maintenance tick")
}

// sweepTimedOutCommands moves AgentCommand rows stuck in Sent/Executing
// past cfg.CommandTimeout into Timeout (spec §3's Timeout status; see
// original_source processing_pipeline.rs's command-timeout pattern, not
// spelled out by spec.md's state machine text but required by its status
// enum).
func (s *Supervisor) sweepTimedOutCommands(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.cfg.CommandTimeout)
	result, err := s.db.ExecContext(ctx, `
		UPDATE agent_commands SET status = $1
		WHERE status IN ($2, $3) AND issued_at < $4`,
		domain.CommandStatusTimeout, domain.CommandStatusSent, domain.CommandStatusExecuting, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// EmergencyStop broadcasts a critical alert to every dashboard and drains
// the pipeline, refusing new queue entries (spec §4.9, scenario S6's
// sibling operation).
func (s *Supervisor) EmergencyStop(ctx context.Context, reason string) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.router.BroadcastEmergencyAlert("Pipeline Emergency Stop", reason, domain.SeverityCritical)
	s.pipe.Stop()
	s.logger.Warn().Str("reason", reason).Msg("emergency stop executed")
	if s.notifier != nil {
		s.notifier.NotifyCritical(ctx, "Pipeline Emergency Stop", reason, "pipeline-emergency-stop")
	}
}

// EmergencyIsolate sends an emergency_isolate Command to every listed
// agent and broadcasts a critical alert (spec §4.9, scenario S6). Each
// command is persisted through the Pending -> Sent transitions like any
// operator-dispatched command, so the sweep and CanTransition machinery
// in command_repository.go/domain/command.go actually see it.
func (s *Supervisor) EmergencyIsolate(ctx context.Context, agentIDs []uuid.UUID, reason string) {
	now := time.Now()
	for _, agentID := range agentIDs {
		cmd := domain.AgentCommand{
			ID:          uuid.New(),
			AgentID:     agentID,
			CommandType: "emergency_isolate",
			CommandData: map[string]interface{}{"reason": reason},
			Status:      domain.CommandStatusPending,
			IssuedAt:    now,
		}
		if s.commands != nil {
			if err := s.commands.CreateCommand(ctx, &cmd); err != nil {
				s.logger.Error().Err(err).Str("agent_id", agentID.String()).Msg("emergency isolate: create command failed")
				continue
			}
			if err := s.commands.UpdateStatus(ctx, cmd.ID, domain.CommandStatusSent, nil); err != nil {
				s.logger.Error().Err(err).Str("agent_id", agentID.String()).Msg("emergency isolate: update command status failed")
				continue
			}
		}
		cmd.Status = domain.CommandStatusSent
		s.router.RouteAgentCommand(agentID, cmd)
	}
	s.router.BroadcastEmergencyAlert("Agent Isolation", reason, domain.SeverityCritical)
	s.logger.Warn().Int("agent_count", len(agentIDs)).Str("reason", reason).Msg("emergency isolate executed")
	if s.notifier != nil {
		s.notifier.NotifyCritical(ctx, "Agent Isolation", reason, "agent-isolation")
	}
}
