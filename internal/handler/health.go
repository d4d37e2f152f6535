package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/taho-ai/streamchat/internal/apperr"
	"github.com/taho-ai/streamchat/internal/llm"
	"github.com/taho-ai/streamchat/pkg/logger"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Pinger is a dependency that can report its own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	deps      map[string]Pinger
	llmClient llm.Client
	logger    *logger.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps map[string]Pinger, llmClient llm.Client, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		deps:      deps,
		llmClient: llmClient,
		logger:    logger.OrNop(log),
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, dep := range h.deps {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": name + " unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// ValidateLLM handles GET /validate-llm
func (h *HealthHandler) ValidateLLM(w http.ResponseWriter, r *http.Request) {
	if h.llmClient == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status":  "invalid",
			"message": "no LLM provider configured",
		})
		return
	}

	if err := llm.Validate(r.Context(), h.llmClient); err != nil {
		status := http.StatusInternalServerError
		state := "error"
		if errors.Is(err, apperr.ErrUpstream) {
			status = http.StatusBadRequest
			state = "invalid"
		}
		writeJSON(w, status, map[string]string{
			"status":  state,
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "valid",
		"message": h.llmClient.Name() + " API key is valid",
	})
}
