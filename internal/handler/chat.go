package handler

import (
	"net/http"

	"github.com/taho-ai/streamchat/internal/middleware"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/internal/service"
	"github.com/taho-ai/streamchat/pkg/logger"
)

// ChatHandler handles the non-streaming chat endpoint.
type ChatHandler struct {
	service *service.ChatService
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		service: svc,
		logger:  logger.OrNop(log),
	}
}

// Chat handles POST /chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Chat(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Error processing chat")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
