package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taho-ai/streamchat/internal/apperr"
	"github.com/taho-ai/streamchat/internal/model"
)

func newAPI(t *testing.T, register func(r chi.Router)) *Client {
	t.Helper()
	r := chi.NewRouter()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", nil, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_CreateConversation(t *testing.T) {
	c := newAPI(t, func(r chi.Router) {
		r.Post("/conversations", func(w http.ResponseWriter, r *http.Request) {
			var req model.CreateConversationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			writeJSON(w, http.StatusCreated, model.Conversation{ID: 42, Title: req.Title, Messages: []model.Message{}})
		})
	})

	conv, err := c.CreateConversation(context.Background(), "Plans")
	require.NoError(t, err)
	assert.Equal(t, int64(42), conv.ID)
	assert.Equal(t, "Plans", conv.Title)
}

func TestClient_GetUpdateDeleteList(t *testing.T) {
	c := newAPI(t, func(r chi.Router) {
		r.Get("/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "7", chi.URLParam(r, "id"))
			writeJSON(w, http.StatusOK, model.Conversation{ID: 7, Messages: []model.Message{
				{ID: 1, ConversationID: 7, Role: model.RoleUser, Content: "hi"},
			}})
		})
		r.Put("/conversations/{id}/title", func(w http.ResponseWriter, r *http.Request) {
			var req model.UpdateTitleRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeJSON(w, http.StatusOK, model.Conversation{ID: 7, Title: req.Title})
		})
		r.Delete("/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/conversations", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			assert.Equal(t, "10", r.URL.Query().Get("offset"))
			writeJSON(w, http.StatusOK, []model.ConversationSummary{{ID: 7, Title: "t", MessageCount: 1}})
		})
	})
	ctx := context.Background()

	conv, err := c.GetConversation(ctx, 7)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hi", conv.Messages[0].Content)

	conv, err = c.UpdateTitle(ctx, 7, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", conv.Title)

	require.NoError(t, c.DeleteConversation(ctx, 7))

	list, err := c.ListConversations(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].MessageCount)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		detail   string
	}{
		{"not found", http.StatusNotFound, `{"detail":"Conversation not found"}`, apperr.ErrNotFound, "Conversation not found"},
		{"validation", http.StatusBadRequest, `{"detail":"title is required"}`, apperr.ErrValidation, "title is required"},
		{"unprocessable", http.StatusUnprocessableEntity, `{"detail":"bad"}`, apperr.ErrValidation, "bad"},
		{"server error", http.StatusInternalServerError, `oops`, apperr.ErrUpstream, "oops"},
		{"rate limited", http.StatusTooManyRequests, `{"detail":"rate limit exceeded"}`, apperr.ErrInternal, "rate limit exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newAPI(t, func(r chi.Router) {
				r.Get("/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				})
			})

			_, err := c.GetConversation(context.Background(), 1)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.detail, apiErr.Detail)
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := New(srv.URL, nil, nil)
	_, err := c.CreateConversation(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}
