// Package httprouter assembles the HTTP surface for the event and control
// plane: a thin adapter wiring internal/middleware and internal/handler
// into a chi router. It holds no business logic of its own.
package httprouter

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/handler"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/transport"
)

// Handlers bundles every HTTP handler the router wires in.
type Handlers struct {
	Health   *handler.HealthHandler
	Auth     *handler.AuthHandler
	Agent    *handler.AgentHandler
	Event    *handler.EventHandler
	Alert    *handler.AlertHandler
	Rule     *handler.RuleHandler
	Pipeline *handler.PipelineHandler
	Command  *handler.CommandHandler

	WSAgent     *transport.AgentHandler
	WSDashboard *transport.DashboardHandler
}

// Stores bundles the AuthStore/SessionStore adapters and the rate limiter.
type Stores struct {
	Auth    middleware.AuthStore
	Session middleware.SessionStore
	Limiter middleware.RateLimiter
}

// New builds the full chi router.
func New(h Handlers, stores Stores, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)

	// Websocket transports authenticate themselves from their own query
	// params (spec §6); they sit outside the REST auth middleware groups.
	r.Handle("/ws/agent", h.WSAgent)
	r.Handle("/ws/dashboard", h.WSDashboard)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Auth.Register)
		r.Post("/login", h.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(stores.Session, logger))
			r.Post("/change_password", h.Auth.ChangePassword)
			r.Get("/me", h.Auth.Me)
			r.Post("/api-keys", h.Auth.CreateAPIKey)
			r.Post("/registration-tokens", h.Auth.CreateRegistrationToken)
		})
	})

	// Agent-facing surface. Register and heartbeat sit outside the API-key
	// middleware (register checks the api_key or registration_token in its
	// body itself); event submission is API-key authenticated and per-key
	// rate limited.
	r.Group(func(r chi.Router) {
		r.Post("/agents/register", h.Agent.Register)
		r.Post("/agents/heartbeat", h.Agent.Heartbeat)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(stores.Auth, logger))
			r.Use(middleware.RateLimit(stores.Limiter, logger))
			r.Post("/threats/events", h.Event.Submit)
		})
	})

	// Dashboard-facing surface: session authenticated.
	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(stores.Session, logger))

		r.Get("/agents", h.Agent.List)
		r.Get("/agents/{id}/events", h.Event.ListForAgent)
		r.Get("/agents/{id}/alerts", h.Alert.ListForAgent)
		r.Post("/agents/{id}/commands", h.Command.Dispatch)
		r.Get("/agents/{id}/commands", h.Command.ListForAgent)

		r.Route("/threats/events", func(r chi.Router) {
			r.Get("/", h.Event.ListForTenant)
		})

		r.Route("/threats/alerts", func(r chi.Router) {
			r.Get("/", h.Alert.List)
			r.Get("/{id}", h.Alert.Get)
			r.Patch("/{id}", h.Alert.UpdateStatus)
		})

		r.Route("/threats/rules", func(r chi.Router) {
			r.Post("/", h.Rule.Create)
			r.Get("/", h.Rule.List)
			r.Get("/{id}", h.Rule.Get)
			r.Put("/{id}", h.Rule.Update)
			r.Delete("/{id}", h.Rule.Delete)
		})

		r.Route("/pipeline", func(r chi.Router) {
			r.Get("/status", h.Pipeline.Status)
			r.Get("/metrics", h.Pipeline.Metrics)
			r.Post("/emergency/stop", h.Pipeline.EmergencyStop)
			r.Post("/emergency/isolate", h.Pipeline.EmergencyIsolate)
		})
	})

	return r
}
