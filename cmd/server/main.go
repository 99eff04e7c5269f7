// Package main is the entry point for the coreplane event and control
// plane service.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/config"
	"github.com/sentrygrid/coreplane/internal/connection"
	"github.com/sentrygrid/coreplane/internal/correlation"
	"github.com/sentrygrid/coreplane/internal/credential"
	"github.com/sentrygrid/coreplane/internal/database"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/enrich"
	"github.com/sentrygrid/coreplane/internal/handler"
	"github.com/sentrygrid/coreplane/internal/httprouter"
	"github.com/sentrygrid/coreplane/internal/messagerouter"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/pipeline"
	"github.com/sentrygrid/coreplane/internal/ratelimit"
	"github.com/sentrygrid/coreplane/internal/registry"
	"github.com/sentrygrid/coreplane/internal/repository"
	"github.com/sentrygrid/coreplane/internal/server"
	"github.com/sentrygrid/coreplane/internal/session"
	"github.com/sentrygrid/coreplane/internal/subscription"
	"github.com/sentrygrid/coreplane/internal/supervisor"
	"github.com/sentrygrid/coreplane/internal/transport"
	"github.com/sentrygrid/coreplane/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := setupLogger(cfg)

	logger.Info().
		Str("env", cfg.Server.Env).
		Str("port", cfg.Server.Port).
		Msg("starting coreplane")

	postgres, err := database.NewPostgres(cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer postgres.Close()

	redis, err := database.NewRedis(cfg.Redis, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redis.Close()

	migrationRunner := database.NewMigrationRunner(postgres, logger)
	if err := migrationRunner.RunFromStrings(context.Background(), database.Migrations()); err != nil {
		logger.Fatal().Err(err).Msg("failed to run database migrations")
	}

	db := postgres.DB

	policy := domain.PasswordPolicy{
		MinLength:     cfg.Credential.PasswordMinLength,
		RequireUpper:  cfg.Credential.PasswordRequireUpper,
		RequireDigit:  cfg.Credential.PasswordRequireDigit,
		RequireSymbol: cfg.Credential.PasswordRequireSymbol,
		MaxAgeDays:    cfg.Credential.PasswordMaxAgeDays,
	}
	credentials := credential.New(db, logger, policy)
	subscriptions := subscription.New(db, logger)
	agents := registry.New(db, logger, credentials, subscriptions)

	conns := connection.New(logger)
	router := messagerouter.New(conns, logger)

	correlationEngine, err := correlation.New(db, logger, correlation.Config{
		WindowDuration:   cfg.Correlation.WindowDuration,
		MaxTenantWindows: cfg.Correlation.MaxTenantWindows,
		RuleReloadPeriod: cfg.Correlation.RuleReloadPeriod,
	}, agents.TenantOf)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct correlation engine")
	}

	enricher := enrich.New(agents)

	pipe := pipeline.New(pipeline.Config{
		QueueCapacity:    cfg.Pipeline.QueueCapacity,
		WorkerCount:      cfg.Pipeline.ResolvedWorkerCount(),
		MaxBatchSize:     cfg.Pipeline.MaxBatchSize,
		PerEventDeadline: cfg.Pipeline.PerEventDeadline,
	}, db, logger, router, correlationEngine)

	commands := repository.NewCommandRepository(db)

	notifier := webhook.NewNotifier(cfg.Alerting.SlackWebhookURL, cfg.Alerting.PagerDutyRoutingKey, logger)
	sup := supervisor.New(supervisor.Config{
		HealthCheckPeriod:   cfg.Alerting.HealthCheckPeriod,
		MaintenancePeriod:   cfg.Alerting.MaintenancePeriod,
		HeartbeatInterval:   cfg.Heartbeat.Interval,
		HeartbeatMultiplier: float64(cfg.Heartbeat.TimeoutMultiplier),
		AlertCacheMaxAge:    cfg.Alerting.ActiveAlertMaxAge,
	}, db, logger, conns, router, pipe, agents, commands, notifier)

	sessionSecret := []byte(cfg.Session.Secret)
	sessions := session.New(sessionSecret, cfg.Session.TTL)

	users := repository.NewUserRepository(db)
	rules := repository.NewRuleRepository(db)
	alerts := repository.NewAlertRepository(db)
	events := repository.NewEventRepository(db)

	authStore := &middleware.CredentialAuthStore{Credentials: credentials, Users: users}
	sessionStore := &middleware.SessionIssuerStore{Issuer: sessions, Users: users}
	limiter := ratelimit.NewLimiter(redis, logger)

	healthHandler := handler.NewHealthHandler(postgres, redis)
	authHandler := handler.NewAuthHandler(users, credentials, sessions, logger)
	agentHandler := handler.NewAgentHandler(agents, credentials, users, logger)
	eventHandler := handler.NewEventHandler(agents, enricher, pipe, events, logger)
	alertHandler := handler.NewAlertHandler(alerts, agents, users, logger)
	ruleHandler := handler.NewRuleHandler(rules, users, logger)
	pipelineHandler := handler.NewPipelineHandler(sup, pipe, logger)
	commandHandler := handler.NewCommandHandler(commands, agents, users, router, logger)

	wsAgentHandler := transport.NewAgentHandler(conns, agents, credentials, enricher, pipe, router, commands, logger)
	wsDashboardHandler := transport.NewDashboardHandler(conns, sessionStore, logger)

	r := httprouter.New(httprouter.Handlers{
		Health:   healthHandler,
		Auth:     authHandler,
		Agent:    agentHandler,
		Event:    eventHandler,
		Alert:    alertHandler,
		Rule:     ruleHandler,
		Pipeline: pipelineHandler,
		Command:  commandHandler,

		WSAgent:     wsAgentHandler,
		WSDashboard: wsDashboardHandler,
	}, httprouter.Stores{
		Auth:    authStore,
		Session: sessionStore,
		Limiter: limiter,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	correlationEngine.Start()
	defer correlationEngine.Stop()

	pipe.Start(ctx)
	defer pipe.Stop()

	sup.Start(ctx)
	defer sup.Stop()

	srv := server.New(cfg, r, logger)

	logger.Info().
		Str("addr", srv.Addr()).
		Msg("coreplane ready to accept connections")

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}

	logger.Info().Msg("coreplane shutdown complete")
}

// setupLogger configures zerolog based on environment.
func setupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Logging.Format == "console" || cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	return logger
}
