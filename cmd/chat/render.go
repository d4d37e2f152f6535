package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/taho-ai/streamchat/internal/client/conversation"
	"github.com/taho-ai/streamchat/internal/model"
)

// renderer prints assistant replies as they stream in. Only the new suffix
// of each message is written, so deltas appear in place on the terminal.
type renderer struct {
	mu       sync.Mutex
	out      io.Writer
	epoch    uint64
	printed  map[string]int
	finished map[string]bool
	waiting  chan struct{}
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:      out,
		printed:  make(map[string]int),
		finished: make(map[string]bool),
	}
}

// expect returns a channel closed once the next reply finishes.
func (r *renderer) expect() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.waiting = ch
	return ch
}

func (r *renderer) onView(v conversation.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Epoch != r.epoch {
		// A new or loaded conversation; its history is printed by the command.
		r.epoch = v.Epoch
		r.printed = make(map[string]int)
		r.finished = make(map[string]bool)
		for _, m := range v.Messages {
			r.finished[m.ID] = true
		}
	}

	for _, m := range v.Messages {
		if m.Role != model.RoleAssistant || r.finished[m.ID] {
			continue
		}
		if m.Failed {
			fmt.Fprintf(r.out, "[error] %s\n", m.Content)
			r.finished[m.ID] = true
			continue
		}

		n, seen := r.printed[m.ID]
		if !seen {
			fmt.Fprint(r.out, "assistant> ")
		}
		if len(m.Content) > n {
			fmt.Fprint(r.out, m.Content[n:])
		}
		r.printed[m.ID] = len(m.Content)
		if !m.Streaming {
			fmt.Fprintln(r.out)
			r.finished[m.ID] = true
		}
	}

	if !v.Loading && r.waiting != nil {
		close(r.waiting)
		r.waiting = nil
	}
}

func printHistory(out io.Writer, messages []conversation.Message) {
	for _, m := range messages {
		prefix := "you> "
		if m.Role == model.RoleAssistant {
			prefix = "assistant> "
		}
		fmt.Fprintf(out, "%s%s\n", prefix, m.Content)
	}
}
