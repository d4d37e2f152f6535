package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/internal/llm"
	"github.com/taho-ai/streamchat/internal/middleware"
	"github.com/taho-ai/streamchat/internal/service"
	"github.com/taho-ai/streamchat/pkg/logger"
)

// RouterDeps carries everything the router needs.
type RouterDeps struct {
	Config        *config.Config
	Conversations *service.ConversationService
	Chat          *service.ChatService
	LLM           llm.Client
	// Checks are pinged by /ready, keyed by dependency name.
	Checks map[string]Pinger
	Logger *logger.Logger
}

// NewRouter builds the chi router with the global middleware stack.
func NewRouter(deps RouterDeps) http.Handler {
	log := logger.OrNop(deps.Logger)
	cfg := deps.Config

	healthHandler := NewHealthHandler(deps.Checks, deps.LLM, log)
	conversationHandler := NewConversationHandler(deps.Conversations, log)
	chatHandler := NewChatHandler(deps.Chat, log)
	socketHandler := NewSocketHandler(deps.Chat, cfg.Server.CORSOrigins, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.RateLimit.Requests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
		}

		r.Get("/validate-llm", healthHandler.ValidateLLM)
		r.Get("/ws/chat", socketHandler.Serve)
		r.Post("/chat", chatHandler.Chat)
		r.Get("/history", conversationHandler.History)
		r.Get("/stats", conversationHandler.Stats)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Put("/title", conversationHandler.UpdateTitle)
			})
		})
	})

	return r
}
