// Package handler provides HTTP handlers for the chat API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taho-ai/streamchat/internal/middleware"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/internal/service"
	"github.com/taho-ai/streamchat/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  logger.OrNop(log),
	}
}

// Create handles POST /conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConversationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := middleware.ValidateStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Create(r.Context(), req.Title)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), queryInt(r, "limit", 10), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.ParseConversationID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// UpdateTitle handles PUT /conversations/{id}/title
func (h *ConversationHandler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.ParseConversationID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.UpdateTitleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.UpdateTitle(r.Context(), id, req.Title)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to update conversation title")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.ParseConversationID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /history
func (h *ConversationHandler) History(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListWithMessages(r.Context(), queryInt(r, "limit", 10), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get chat history")
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// Stats handles GET /stats
func (h *ConversationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get conversation statistics")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
