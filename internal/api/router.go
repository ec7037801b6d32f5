// Package api exposes the REST, WebSocket and metrics surface over the
// control loop.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/livepilot/livepilot-go/internal/config"
	"github.com/livepilot/livepilot-go/internal/database/repositories"
	"github.com/livepilot/livepilot-go/internal/services/controller"
	"github.com/livepilot/livepilot-go/internal/services/poller"
	"github.com/livepilot/livepilot-go/internal/services/pubsub"
	"github.com/livepilot/livepilot-go/internal/services/rules"
	"github.com/livepilot/livepilot-go/internal/services/sweep"
)

// Server holds the handler dependencies.
type Server struct {
	controller *controller.Controller
	poller     *poller.Service
	engine     *rules.Engine
	sweeps     *sweep.Engine
	triggers   *repositories.TriggerEventRepository
	events     *pubsub.PubSub
	upgrader   websocket.Upgrader
}

// NewServer creates the API server over the control loop services.
// triggers and events may be nil; the matching endpoints then degrade.
func NewServer(
	ctrl *controller.Controller,
	p *poller.Service,
	engine *rules.Engine,
	sweeps *sweep.Engine,
	triggers *repositories.TriggerEventRepository,
	events *pubsub.PubSub,
) *Server {
	return &Server{
		controller: ctrl,
		poller:     p,
		engine:     engine,
		sweeps:     sweeps,
		triggers:   triggers,
		events:     events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for WebSocket
			},
		},
	}
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router(cfg *config.Config) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin, "http://localhost:3000", "http://localhost:4000"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		Debug:            cfg.IsDevelopment(),
	})
	router.Use(corsMiddleware.Handler)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/ws", s.handleWebSocket)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/parameters", s.handleParameters)
		r.Get("/history", s.handleHistory)
		r.Get("/rulesets", s.handleRuleSets)

		r.Post("/rules/{id}/enable", s.handleRuleToggle(true))
		r.Post("/rules/{id}/disable", s.handleRuleToggle(false))
		r.Post("/rulesets/{id}/enable", s.handleRuleSetToggle(true))
		r.Post("/rulesets/{id}/disable", s.handleRuleSetToggle(false))

		r.Post("/sweeps", s.handleStartSweep)
		r.Delete("/sweeps/{track}/{device}/{parameter}", s.handleStopSweep)
		r.Post("/emergency-stop", s.handleEmergencyStop)
	})

	return router
}
