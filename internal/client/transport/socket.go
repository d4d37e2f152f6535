// Package transport owns the chat client's WebSocket connection: dialing,
// an outbound queue while the socket is not open, reconnect with capped
// exponential backoff, and fan-out of decoded inbound frames.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taho-ai/streamchat/internal/client/pubsub"
	"github.com/taho-ai/streamchat/internal/client/stream"
	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/pkg/logger"
	"github.com/taho-ai/streamchat/pkg/metrics"
)

const (
	DefaultBaseDelay        = time.Second
	DefaultMaxDelay         = 30 * time.Second
	DefaultMaxAttempts      = 5
	DefaultHandshakeTimeout = 10 * time.Second

	writeTimeout = 10 * time.Second
)

// Options configures a Socket. Zero values take the defaults above.
type Options struct {
	URL              string
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
	Logger           *logger.Logger
}

// OptionsFromConfig builds Options from the client configuration.
func OptionsFromConfig(cfg config.ClientConfig, log *logger.Logger) Options {
	return Options{
		URL:              cfg.SocketURL,
		BaseDelay:        cfg.ReconnectBaseDelay,
		MaxDelay:         cfg.ReconnectMaxDelay,
		MaxAttempts:      cfg.ReconnectMaxAttempts,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           log,
	}
}

// Socket is a reconnecting WebSocket client. All methods are safe for
// concurrent use and none of them block on the network except Send, which
// writes synchronously while the socket is open.
type Socket struct {
	opts   Options
	logger *logger.Logger

	mu         sync.Mutex
	state      model.ConnectionState
	stateSeq   uint64
	conn       *websocket.Conn
	gen        uint64
	cancelDial context.CancelFunc
	queue      []string
	attempt    int
	backoff    *backoff.ExponentialBackOff
	timer      *time.Timer

	states   *pubsub.Registry[model.ConnectionState]
	messages *pubsub.Registry[model.StreamFrame]
}

// New creates a Socket in the closed state. Nothing is dialed until Connect
// or Send.
func New(opts Options) *Socket {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = opts.HandshakeTimeout
		opts.Dialer = &d
	}

	return &Socket{
		opts:     opts,
		logger:   logger.OrNop(opts.Logger).Named("transport"),
		state:    model.StateClosed,
		backoff:  newBackOff(opts.BaseDelay, opts.MaxDelay),
		states:   pubsub.NewReplay(model.StateClosed),
		messages: pubsub.New[model.StreamFrame](),
	}
}

// newBackOff yields base, 2*base, 4*base, ... capped at max, without jitter
// and without an elapsed-time limit.
func newBackOff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// State returns the current connection state.
func (s *Socket) State() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of reconnect attempts scheduled since the last
// successful open.
func (s *Socket) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Pending returns the number of queued payloads.
func (s *Socket) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// SubscribeState registers fn for state changes. fn is called immediately
// with the current state.
func (s *Socket) SubscribeState(fn func(model.ConnectionState)) func() {
	return s.states.Subscribe(fn)
}

// SubscribeMessages registers fn for decoded inbound frames.
func (s *Socket) SubscribeMessages(fn func(model.StreamFrame)) func() {
	return s.messages.Subscribe(fn)
}

// Connect opens the connection unless it is already open or connecting. An
// explicit Connect also resets the reconnect budget.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.state != model.StateOpen && s.state != model.StateConnecting {
		s.attempt = 0
		s.backoff.Reset()
	}
	notify := s.connectLocked()
	s.mu.Unlock()
	notify()
}

// Send transmits payload if the socket is open. Otherwise the payload is
// queued and flushed in order as soon as the socket opens, and a connection
// attempt is started unless one is already running or scheduled.
func (s *Socket) Send(payload string) {
	s.mu.Lock()
	if s.state == model.StateOpen {
		err := s.writeLocked(payload)
		if err == nil {
			s.mu.Unlock()
			return
		}
		s.logger.Warn("send failed, queueing for reconnect", zap.Error(err))
		s.queue = append(s.queue, payload)
		notify := s.failLocked(err)
		s.mu.Unlock()
		notify()
		return
	}

	s.queue = append(s.queue, payload)
	notify := func() {}
	if s.state != model.StateConnecting && s.timer == nil {
		notify = s.connectLocked()
	}
	s.mu.Unlock()
	notify()
}

// Disconnect cancels any scheduled reconnect, closes the connection and moves
// to closed. Queued payloads are kept for the next connection.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
		s.conn = nil
	}
	notify := s.setStateLocked(model.StateClosed)
	s.mu.Unlock()
	notify()
}

func (s *Socket) connectLocked() func() {
	if s.state == model.StateOpen || s.state == model.StateConnecting {
		return func() {}
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDial = cancel

	publish := s.setStateLocked(model.StateConnecting)
	// Dial only after connecting is published so open can never overtake it.
	return func() {
		publish()
		go s.dial(ctx, gen)
	}
}

func (s *Socket) dial(ctx context.Context, gen uint64) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	conn, resp, err := s.opts.Dialer.DialContext(dialCtx, s.opts.URL, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}

	if err != nil {
		s.logger.Warn("dial failed", zap.String("url", s.opts.URL), zap.Error(err))
		notify := s.failLocked(err)
		s.mu.Unlock()
		notify()
		return
	}

	s.conn = conn
	for len(s.queue) > 0 {
		if err := s.writeLocked(s.queue[0]); err != nil {
			s.logger.Warn("flush failed", zap.Error(err))
			notify := s.failLocked(err)
			s.mu.Unlock()
			notify()
			return
		}
		s.queue[0] = ""
		s.queue = s.queue[1:]
	}

	s.attempt = 0
	s.backoff.Reset()
	notify := s.setStateLocked(model.StateOpen)
	s.mu.Unlock()

	s.logger.Info("connected", zap.String("url", s.opts.URL))
	notify()
	go s.readLoop(conn, gen)
}

func (s *Socket) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if gen != s.gen {
				s.mu.Unlock()
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Info("server closed connection")
			} else {
				s.logger.Warn("connection lost", zap.Error(err))
			}
			notify := s.failLocked(err)
			s.mu.Unlock()
			notify()
			return
		}

		frame := stream.Decode(data)

		s.mu.Lock()
		stale := gen != s.gen
		s.mu.Unlock()
		if stale {
			return
		}
		s.messages.Publish(frame)
	}
}

// writeLocked writes one text frame. Holding s.mu keeps writes single-file
// and ordered behind the queue flush.
func (s *Socket) writeLocked(payload string) error {
	if s.conn == nil {
		return errors.New("not connected")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// failLocked tears down the current connection after an unexpected failure
// and schedules the next attempt, or gives up once the budget is spent.
func (s *Socket) failLocked(cause error) func() {
	s.gen++
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	if s.attempt >= s.opts.MaxAttempts {
		s.logger.Error("giving up reconnecting",
			zap.Int("attempts", s.attempt),
			zap.Error(cause),
		)
		return s.setStateLocked(model.StateError)
	}

	delay := s.backoff.NextBackOff()
	s.attempt++
	metrics.ClientReconnectsTotal.Inc()

	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.reconnect(gen) })
	s.logger.Info("reconnect scheduled",
		zap.Int("attempt", s.attempt),
		zap.Duration("delay", delay),
	)
	return s.setStateLocked(model.StateClosed)
}

func (s *Socket) reconnect(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	notify := s.connectLocked()
	s.mu.Unlock()
	notify()
}

// setStateLocked records the new state and returns a function that publishes
// it. Callers invoke the function after releasing s.mu.
func (s *Socket) setStateLocked(state model.ConnectionState) func() {
	if s.state == state {
		return func() {}
	}
	s.state = state
	s.stateSeq++
	seq := s.stateSeq
	return func() { s.states.PublishSeq(seq, state) }
}
