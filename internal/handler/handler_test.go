package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/internal/handler"
	"github.com/taho-ai/streamchat/internal/llm/mocks"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/internal/service"
	"github.com/taho-ai/streamchat/internal/store"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

type testEnv struct {
	server        *httptest.Server
	conversations *service.ConversationService
	llm           *mocks.MockClient
}

func newTestEnv(t *testing.T, checks map[string]handler.Pinger) *testEnv {
	t.Helper()

	st, err := store.Open(config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	if checks == nil {
		checks = map[string]handler.Pinger{"database": st}
	}

	llmClient := mocks.NewMockClient(t)
	conversations := service.NewConversationService(st, nil, nil, nil)
	chat := service.NewChatService(conversations, llmClient, nil)

	cfg := &config.Config{
		Server:    config.ServerConfig{CORSOrigins: []string{"*"}},
		RateLimit: config.RateLimitConfig{Requests: 1000, Window: time.Minute},
	}

	srv := httptest.NewServer(handler.NewRouter(handler.RouterDeps{
		Config:        cfg,
		Conversations: conversations,
		Chat:          chat,
		LLM:           llmClient,
		Checks:        checks,
	}))
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, conversations: conversations, llm: llmClient}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, handler.Version, body["version"])
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))
}

func TestReady(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		env := newTestEnv(t, nil)
		resp := env.do(t, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("dependency down", func(t *testing.T) {
		env := newTestEnv(t, map[string]handler.Pinger{"cache": failingPinger{}})
		resp := env.do(t, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "cache unavailable", decode[map[string]string](t, resp)["reason"])
	})
}

func TestConversationEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/conversations", model.CreateConversationRequest{Title: "Trip plans"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[model.Conversation](t, resp)
	assert.Equal(t, "Trip plans", created.Title)
	path := "/conversations/" + strconv.FormatInt(created.ID, 10)

	resp = env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[model.Conversation](t, resp).ID)

	resp = env.do(t, http.MethodPut, path+"/title", model.UpdateTitleRequest{Title: "Renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", decode[model.Conversation](t, resp).Title)

	resp = env.do(t, http.MethodGet, "/conversations?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]model.ConversationSummary](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Title)

	resp = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decode[handler.ErrorResponse](t, resp).Detail)
}

func TestConversationEndpoints_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"bad id", http.MethodGet, "/conversations/abc", nil, http.StatusBadRequest},
		{"negative id", http.MethodDelete, "/conversations/-3", nil, http.StatusBadRequest},
		{"missing conversation", http.MethodDelete, "/conversations/999", nil, http.StatusNotFound},
		{"blank title", http.MethodPut, "/conversations/1/title", model.UpdateTitleRequest{}, http.StatusBadRequest},
		{"title on missing conversation", http.MethodPut, "/conversations/999/title", model.UpdateTitleRequest{Title: "x"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decode[handler.ErrorResponse](t, resp).Detail)
		})
	}
}

func TestStatsAndHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	conv, err := env.conversations.Create(ctx, "")
	require.NoError(t, err)
	_, err = env.conversations.AppendMessage(ctx, conv.ID, model.RoleUser, "hello")
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[model.Stats](t, resp)
	assert.Equal(t, int64(1), stats.TotalConversations)
	assert.Equal(t, int64(1), stats.TotalMessages)

	resp = env.do(t, http.MethodGet, "/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]model.Conversation](t, resp)
	require.Len(t, history, 1)
	require.Len(t, history[0].Messages, 1)
	assert.Equal(t, "hello", history[0].Messages[0].Content)
}

func TestChatEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.llm.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything).
		Return([]string{"Hi ", "there"}, nil).Once()

	resp := env.do(t, http.MethodPost, "/chat", model.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[model.ChatResponse](t, resp)
	assert.NotZero(t, body.ConversationID)
	assert.Equal(t, "hello", body.UserMessage.Content)
	assert.Equal(t, "Hi there", body.AIResponse.Content)

	resp = env.do(t, http.MethodPost, "/chat", model.ChatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dialSocket(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/chat"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) model.StreamFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame model.StreamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestSocket_StreamsReply(t *testing.T) {
	env := newTestEnv(t, nil)
	env.llm.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything).
		Return([]string{"Hel", "lo!"}, nil).Once()

	conn := dialSocket(t, env)
	require.NoError(t, conn.WriteJSON(map[string]string{"message": "Hi"}))

	first := readFrame(t, conn)
	assert.Equal(t, model.StatusStreaming, first.Status)
	assert.Empty(t, first.Text)
	id := first.ConversationID
	require.NotZero(t, id)

	var text strings.Builder
	for {
		frame := readFrame(t, conn)
		assert.Equal(t, id, frame.ConversationID)
		if frame.Status == model.StatusComplete {
			break
		}
		require.Equal(t, model.StatusStreaming, frame.Status)
		text.WriteString(frame.Text)
	}
	assert.Equal(t, "Hello!", text.String())

	conv, err := env.conversations.Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hello!", conv.Messages[1].Content)
}

func TestSocket_InvalidMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialSocket(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, model.StreamFrame{Status: model.StatusError, Error: "Invalid message format"}, frame)

	require.NoError(t, conn.WriteJSON(map[string]any{"message": "hi", "conversation_id": 4242}))
	frame = readFrame(t, conn)
	assert.Equal(t, model.StatusError, frame.Status)
	assert.Equal(t, int64(4242), frame.ConversationID)
	assert.Equal(t, "Conversation with ID 4242 not found", frame.Error)

	// The socket stays usable after errors.
	require.NoError(t, conn.WriteJSON(map[string]string{"message": "  "}))
	frame = readFrame(t, conn)
	assert.Equal(t, "Message cannot be empty", frame.Error)
}
