// Package main is the entry point for the chat API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taho-ai/streamchat/internal/cache"
	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/internal/handler"
	"github.com/taho-ai/streamchat/internal/llm"
	natsclient "github.com/taho-ai/streamchat/internal/nats"
	"github.com/taho-ai/streamchat/internal/service"
	"github.com/taho-ai/streamchat/internal/store"
	"github.com/taho-ai/streamchat/pkg/logger"
	"github.com/taho-ai/streamchat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(ctx, "streamchat", cfg.Tracing.Endpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(ctx, tp) }()
		}
	}

	// Open the database
	st, err := store.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	checks := map[string]handler.Pinger{"database": st}

	// History cache
	historyCache := cache.New(cfg.Cache)
	if rc, ok := historyCache.(*cache.RedisCache); ok {
		defer func() { _ = rc.Close() }()
		checks["cache"] = rc
	}

	// Event publisher
	var publisher natsclient.Publisher = natsclient.Noop{}
	if cfg.NATS.URL != "" {
		natsClient, err := natsclient.Connect(ctx, cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()
		checks["nats"] = natsClient

		if err := natsclient.EnsureStream(ctx, natsClient.JetStream()); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		publisher = natsclient.NewStreamManager(natsClient)
	}

	// Initialize LLM client
	llmClient, err := llm.NewClient(cfg.LLM, log)
	if err != nil {
		log.Fatal("failed to create LLM client", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
	}

	// Initialize services
	conversationSvc := service.NewConversationService(st, historyCache, publisher, log)
	chatSvc := service.NewChatService(conversationSvc, llmClient, log)

	router := handler.NewRouter(handler.RouterDeps{
		Config:        cfg,
		Conversations: conversationSvc,
		Chat:          chatSvc,
		LLM:           llmClient,
		Checks:        checks,
		Logger:        log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
