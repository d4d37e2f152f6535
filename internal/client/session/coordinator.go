// Package session coordinates the chat client: it owns the transport and the
// conversation state machine and sequences conversation creation, sending
// and title updates against the REST API.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/taho-ai/streamchat/internal/client/conversation"
	"github.com/taho-ai/streamchat/internal/client/pubsub"
	"github.com/taho-ai/streamchat/internal/client/stream"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/pkg/logger"
)

const (
	DefaultGracePeriod    = 500 * time.Millisecond
	DefaultTitleMaxLength = 50

	createTimeout = 30 * time.Second
	titleTimeout  = 10 * time.Second
)

// ErrSuperseded is returned when the conversation was replaced by Load,
// NewChat or Delete while a send was resolving its conversation.
var ErrSuperseded = errors.New("conversation changed before the message was sent")

// Transport is the socket the coordinator drives.
type Transport interface {
	Connect()
	Send(payload string)
	Disconnect()
	State() model.ConnectionState
	Pending() int
	SubscribeState(fn func(model.ConnectionState)) func()
	SubscribeMessages(fn func(model.StreamFrame)) func()
}

// API is the REST collaborator for conversation CRUD.
type API interface {
	CreateConversation(ctx context.Context, title string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*model.Conversation, error)
	UpdateTitle(ctx context.Context, id int64, title string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
	ListConversations(ctx context.Context, limit, offset int) ([]model.ConversationSummary, error)
}

// Options tunes the coordinator. Zero values take the defaults.
type Options struct {
	GracePeriod    time.Duration
	TitleMaxLength int
	Logger         *logger.Logger
}

// Status is the UI-facing summary of the session.
type Status struct {
	Connection     model.ConnectionState
	ConversationID int64
	Loading        bool
}

// Coordinator is the session coordinator.
type Coordinator struct {
	transport Transport
	api       API
	machine   *conversation.Machine
	opts      Options
	logger    *logger.Logger

	group singleflight.Group

	mu        sync.Mutex
	fresh     map[int64]bool
	status    Status
	statusSeq uint64
	closed    bool

	statuses *pubsub.Registry[Status]
	unsubs   []func()
	titles   sync.WaitGroup
}

// New wires a coordinator to its collaborators and subscribes to the
// transport. A nil api means conversations are created by the server on the
// first message and adopted from the first reply frame.
func New(transport Transport, api API, machine *conversation.Machine, opts Options) *Coordinator {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.TitleMaxLength <= 0 {
		opts.TitleMaxLength = DefaultTitleMaxLength
	}

	c := &Coordinator{
		transport: transport,
		api:       api,
		machine:   machine,
		opts:      opts,
		logger:    logger.OrNop(opts.Logger).Named("session"),
		fresh:     make(map[int64]bool),
		status:    Status{Connection: model.StateClosed},
	}
	c.statuses = pubsub.NewReplay(c.status)

	c.unsubs = append(c.unsubs,
		transport.SubscribeMessages(c.onFrame),
		transport.SubscribeState(c.onState),
		machine.Subscribe(c.onView),
	)
	return c
}

// Start opens the connection.
func (c *Coordinator) Start() {
	c.transport.Connect()
}

// Close unsubscribes, disconnects and waits for pending title updates.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	c.transport.Disconnect()
	c.titles.Wait()
}

// Machine returns the conversation state machine.
func (c *Coordinator) Machine() *conversation.Machine {
	return c.machine
}

// Status returns the current session status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SubscribeStatus registers fn for status changes and calls it with the
// current status.
func (c *Coordinator) SubscribeStatus(fn func(Status)) func() {
	return c.statuses.Subscribe(fn)
}

// EnsureConversationID returns the active conversation ID, creating the
// conversation if needed. Concurrent callers share one creation.
func (c *Coordinator) EnsureConversationID(ctx context.Context) (int64, error) {
	return c.ensure(ctx, c.machine.Epoch())
}

func (c *Coordinator) ensure(ctx context.Context, epoch uint64) (int64, error) {
	id, current := c.machine.IDAt(epoch)
	if !current {
		return 0, ErrSuperseded
	}
	if id != 0 || c.api == nil {
		return id, nil
	}

	// Callers share the creation; it outlives any one caller's cancellation.
	shared := context.WithoutCancel(ctx)
	key := "create:" + strconv.FormatUint(epoch, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		// An earlier flight for this epoch may have finished since the check above.
		if id, current := c.machine.IDAt(epoch); !current {
			return int64(0), ErrSuperseded
		} else if id != 0 {
			return id, nil
		}

		createCtx, cancel := context.WithTimeout(shared, createTimeout)
		defer cancel()
		conv, err := c.api.CreateConversation(createCtx, "")
		if err != nil {
			return int64(0), err
		}
		if !c.machine.AdoptID(epoch, conv.ID) {
			c.logger.Warn("created conversation was not adopted",
				zap.Int64("conversation_id", conv.ID))
			return int64(0), ErrSuperseded
		}

		c.mu.Lock()
		c.fresh[conv.ID] = true
		c.mu.Unlock()

		c.logger.Info("conversation created", zap.Int64("conversation_id", conv.ID))
		return conv.ID, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// SendMessage sends content in the active conversation, creating the
// conversation first if needed. Blank content is ignored. REST failures are
// returned; stream failures show up in the conversation log instead.
func (c *Coordinator) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	epoch, ok := c.machine.BeginSend(content)
	if !ok {
		return nil
	}

	id, err := c.ensure(ctx, epoch)
	if err != nil {
		if c.machine.Epoch() == epoch {
			c.machine.Abort(err.Error())
		}
		return fmt.Errorf("ensure conversation: %w", err)
	}

	if c.transport.State() != model.StateOpen {
		c.transport.Connect()
		c.waitOpen(ctx)
	}

	payload, err := stream.EncodeRequest(content, id)
	if err != nil {
		c.machine.Abort(err.Error())
		return err
	}
	c.transport.Send(payload)

	if id != 0 && c.claimTitle(id) {
		c.updateTitle(id, content)
	}
	return nil
}

// waitOpen waits up to the grace period for the socket to open. Sending
// afterwards is safe either way since the transport queues.
func (c *Coordinator) waitOpen(ctx context.Context) {
	opened := make(chan struct{})
	var once sync.Once
	unsub := c.transport.SubscribeState(func(s model.ConnectionState) {
		if s == model.StateOpen {
			once.Do(func() { close(opened) })
		}
	})
	defer unsub()

	timer := time.NewTimer(c.opts.GracePeriod)
	defer timer.Stop()

	select {
	case <-opened:
	case <-timer.C:
		c.logger.Debug("socket not open after grace period, sending anyway")
	case <-ctx.Done():
	}
}

func (c *Coordinator) claimTitle(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fresh[id] {
		return false
	}
	delete(c.fresh, id)
	return true
}

// updateTitle renames the conversation after its first message. It runs in
// the background and failures are only logged.
func (c *Coordinator) updateTitle(id int64, content string) {
	title := TruncateTitle(content, c.opts.TitleMaxLength)
	c.titles.Add(1)
	go func() {
		defer c.titles.Done()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		if _, err := c.api.UpdateTitle(ctx, id, title); err != nil {
			c.logger.Warn("failed to update conversation title",
				zap.Int64("conversation_id", id),
				zap.Error(err),
			)
		}
	}()
}

// LoadConversation fetches a conversation and makes it the active one.
func (c *Coordinator) LoadConversation(ctx context.Context, id int64) error {
	if c.api == nil {
		return errors.New("no REST API configured")
	}
	conv, err := c.api.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	c.machine.Load(conv.ID, conv.Messages)
	return nil
}

// NewChat clears the active conversation. The connection is kept.
func (c *Coordinator) NewChat() {
	c.machine.Clear()
}

// DeleteConversation deletes a conversation and clears it if it is active.
func (c *Coordinator) DeleteConversation(ctx context.Context, id int64) error {
	if c.api == nil {
		return errors.New("no REST API configured")
	}
	if err := c.api.DeleteConversation(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.fresh, id)
	c.mu.Unlock()
	if c.machine.ID() == id {
		c.machine.Clear()
	}
	return nil
}

// ListConversations lists conversation summaries.
func (c *Coordinator) ListConversations(ctx context.Context, limit, offset int) ([]model.ConversationSummary, error) {
	if c.api == nil {
		return nil, errors.New("no REST API configured")
	}
	return c.api.ListConversations(ctx, limit, offset)
}

func (c *Coordinator) onFrame(frame model.StreamFrame) {
	c.machine.Apply(frame)
}

// onState interrupts a pending reply when the connection carrying it drops.
// A request still queued in the transport survives a drop since it is sent
// again on reconnect. Once the transport gives up nothing will arrive.
func (c *Coordinator) onState(state model.ConnectionState) {
	c.mu.Lock()
	prev := c.status.Connection
	c.status.Connection = state
	publish := c.statusChangedLocked()
	c.mu.Unlock()
	publish()

	switch {
	case state == model.StateError:
		c.machine.Interrupt("unable to reach the chat server")
	case prev == model.StateOpen && state != model.StateOpen:
		if n := c.transport.Pending(); n > 0 {
			c.logger.Info("connection lost with requests queued, waiting for reconnect",
				zap.Int("pending", n))
			return
		}
		c.machine.Interrupt("connection lost")
	}
}

func (c *Coordinator) onView(v conversation.View) {
	c.mu.Lock()
	c.status.ConversationID = v.ConversationID
	c.status.Loading = v.Loading
	publish := c.statusChangedLocked()
	c.mu.Unlock()
	publish()
}

func (c *Coordinator) statusChangedLocked() func() {
	c.statusSeq++
	seq := c.statusSeq
	st := c.status
	return func() { c.statuses.PublishSeq(seq, st) }
}

// TruncateTitle shortens s to max characters, adding "..." when cut.
func TruncateTitle(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "..."
}
