package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taho-ai/streamchat/internal/middleware"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/internal/service"
	"github.com/taho-ai/streamchat/pkg/logger"
	"github.com/taho-ai/streamchat/pkg/metrics"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// SocketHandler serves the chat WebSocket. Each text message on the socket is
// one chat request; replies are written back as stream frames.
type SocketHandler struct {
	service  *service.ChatService
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewSocketHandler creates a new socket handler accepting the given origins.
// An empty list or "*" accepts any origin.
func NewSocketHandler(svc *service.ChatService, origins []string, log *logger.Logger) *SocketHandler {
	return &SocketHandler{
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
		logger: logger.OrNop(log),
	}
}

// Serve handles GET /ws/chat
func (h *SocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.IncrementSocketConnections()
	defer metrics.DecrementSocketConnections()

	log := h.logger.With(zap.String("correlation_id", middleware.GetCorrelationID(r.Context())))
	log.Info("socket connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	emit := func(frame model.StreamFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			return err
		}
		metrics.RecordFrame(string(frame.Status))
		return nil
	}

	// Heartbeat
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				writeMu.Unlock()
				if err != nil {
					log.Info("heartbeat failed, closing socket", zap.Error(err))
					cancel()
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("socket closed unexpectedly", zap.Error(err))
			} else {
				log.Info("socket disconnected")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req model.ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Warn("invalid socket message", zap.Error(err))
			if err := emit(model.StreamFrame{Status: model.StatusError, Error: "Invalid message format"}); err != nil {
				return
			}
			continue
		}

		if err := h.service.Relay(ctx, req, emit); err != nil {
			log.Info("failed to write frame, closing socket", zap.Error(err))
			return
		}
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(allowed) == 0 || allowed[origin]
	}
}
