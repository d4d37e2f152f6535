// Package main is the terminal chat client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/taho-ai/streamchat/internal/client/conversation"
	"github.com/taho-ai/streamchat/internal/client/restapi"
	"github.com/taho-ai/streamchat/internal/client/session"
	"github.com/taho-ai/streamchat/internal/client/transport"
	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/pkg/logger"
)

const helpText = `Commands:
  /new           start a new conversation
  /load <id>     load a conversation
  /list          list recent conversations
  /delete <id>   delete a conversation
  /status        show connection status
  /quit          exit
Anything else is sent as a message.`

const requestTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Log to a file so output does not interleave with the prompt.
	log, err := logger.NewFile(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	socket := transport.New(transport.OptionsFromConfig(cfg.Client, log))
	api := restapi.New(cfg.Client.APIURL, nil, log)
	machine := conversation.New(log)
	coord := session.New(socket, api, machine, session.Options{
		GracePeriod:    cfg.Client.SendGracePeriod,
		TitleMaxLength: cfg.Client.TitleMaxLength,
		Logger:         log,
	})
	defer coord.Close()

	r := newRenderer(os.Stdout)
	unsub := machine.Subscribe(r.onView)
	defer unsub()

	coord.Start()
	log.Info("chat client started", zap.String("socket_url", cfg.Client.SocketURL))

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("streamchat: type /help for commands")

	for {
		input, err := line.Prompt("you> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				log.Warn("prompt failed", zap.Error(err))
			}
			fmt.Println()
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := runCommand(coord, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[error] %v\n", err)
			}
			if quit {
				return
			}
			continue
		}

		sendAndWait(coord, r, input)
	}
}

// sendAndWait sends input and blocks until the reply finishes or the user
// presses Ctrl+C.
func sendAndWait(coord *session.Coordinator, r *renderer, input string) {
	done := r.expect()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	err := coord.SendMessage(ctx, input)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		return
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	select {
	case <-done:
	case <-interrupt:
		fmt.Println("\n[stopped waiting; the reply may still arrive]")
	}
}

func runCommand(coord *session.Coordinator, input string) (quit bool, err error) {
	fields := strings.Fields(input)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Println(helpText)

	case "/new":
		coord.NewChat()
		fmt.Println("[new conversation]")

	case "/status":
		st := coord.Status()
		id := "none"
		if st.ConversationID != 0 {
			id = strconv.FormatInt(st.ConversationID, 10)
		}
		fmt.Printf("connection: %s  conversation: %s  waiting: %t\n", st.Connection, id, st.Loading)

	case "/list":
		list, err := coord.ListConversations(ctx, 20, 0)
		if err != nil {
			return false, err
		}
		if len(list) == 0 {
			fmt.Println("no conversations")
		}
		for _, c := range list {
			fmt.Printf("%5d  %-40s  %3d messages  %s\n",
				c.ID, c.Title, c.MessageCount, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}

	case "/load", "/delete":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: %s <id>", fields[0])
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || id <= 0 {
			return false, fmt.Errorf("invalid conversation id %q", fields[1])
		}
		if fields[0] == "/delete" {
			if err := coord.DeleteConversation(ctx, id); err != nil {
				return false, err
			}
			fmt.Printf("[deleted conversation %d]\n", id)
			return false, nil
		}
		if err := coord.LoadConversation(ctx, id); err != nil {
			return false, err
		}
		fmt.Printf("[conversation %d]\n", id)
		printHistory(os.Stdout, coord.Machine().Snapshot().Messages)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return false, nil
}
