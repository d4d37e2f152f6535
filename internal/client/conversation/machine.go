// Package conversation holds the client's view of the active conversation
// and applies optimistic sends and streamed reply frames to it.
package conversation

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taho-ai/streamchat/internal/client/pubsub"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/pkg/logger"
)

// Phase is the request phase of the active conversation.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAwaiting  Phase = "awaiting-reply"
	PhaseReceiving Phase = "receiving"
)

// Message is one entry of the client-side conversation log.
type Message struct {
	// ID is a client-generated UUID, or the server ID for loaded history.
	ID             string
	Role           model.Role
	Content        string
	ConversationID int64
	Timestamp      time.Time
	// Streaming is true while an assistant reply is still receiving chunks.
	Streaming bool
	// Failed marks an assistant entry that reports a stream error.
	Failed bool
}

// View is an immutable snapshot of the conversation.
type View struct {
	ConversationID int64
	Messages       []Message
	Phase          Phase
	Loading        bool
	// Err is the most recent stream or request error, cleared on the next send.
	Err   string
	Epoch uint64
}

// Machine is the conversation state machine. It never touches the network.
type Machine struct {
	mu       sync.Mutex
	id       int64
	epoch    uint64
	messages []Message
	phase    Phase
	open     int
	err      string
	seq      uint64

	// retired holds conversations left by Load or Clear. Their late frames
	// are dropped.
	retired map[int64]struct{}

	views  *pubsub.Registry[View]
	logger *logger.Logger
	now    func() time.Time
}

// New creates an empty machine with no conversation.
func New(log *logger.Logger) *Machine {
	return &Machine{
		phase:   PhaseIdle,
		open:    -1,
		retired: make(map[int64]struct{}),
		views:   pubsub.NewReplay(View{Phase: PhaseIdle}),
		logger:  logger.OrNop(log).Named("conversation"),
		now:     time.Now,
	}
}

// Subscribe registers fn for view changes and calls it with the current view.
func (m *Machine) Subscribe(fn func(View)) func() {
	return m.views.Subscribe(fn)
}

// Snapshot returns the current view.
func (m *Machine) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// ID returns the active conversation ID, or 0 when none exists yet.
func (m *Machine) ID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// IDAt returns the conversation ID for epoch. current is false once Load or
// Clear replaced that conversation.
func (m *Machine) IDAt(epoch uint64) (id int64, current bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return 0, false
	}
	return m.id, true
}

// Epoch returns the current epoch. It changes on every Load and Clear.
func (m *Machine) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// BeginSend appends content as an optimistic user message and waits for a
// reply. Blank content is rejected. If a reply is still open it is finalized
// with what it has so far before the new message starts. The returned epoch
// identifies the conversation the message belongs to.
func (m *Machine) BeginSend(content string) (epoch uint64, ok bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, false
	}

	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.logger.Debug("finalizing open reply for new send", zap.String("phase", string(m.phase)))
		m.closeOpenLocked()
	}
	m.messages = append(m.messages, Message{
		ID:             uuid.NewString(),
		Role:           model.RoleUser,
		Content:        content,
		ConversationID: m.id,
		Timestamp:      m.now(),
	})
	m.phase = PhaseAwaiting
	m.err = ""
	epoch = m.epoch
	publish := m.changedLocked()
	m.mu.Unlock()

	publish()
	return epoch, true
}

// Apply applies one decoded frame and reports whether it changed the view.
// Frames are ignored while idle, when they name a conversation other than the
// active one, and when they name a conversation left by Load or Clear. A frame
// with ID 0 belongs to the pending request.
func (m *Machine) Apply(frame model.StreamFrame) bool {
	m.mu.Lock()
	if m.phase == PhaseIdle {
		m.mu.Unlock()
		return false
	}
	if frame.ConversationID != 0 {
		_, retired := m.retired[frame.ConversationID]
		switch {
		case frame.ConversationID == m.id:
		case m.id == 0 && !retired:
			m.adoptLocked(frame.ConversationID)
		default:
			m.mu.Unlock()
			m.logger.Debug("ignoring frame for inactive conversation",
				zap.Int64("frame_conversation_id", frame.ConversationID))
			return false
		}
	}

	switch frame.Status {
	case model.StatusStreaming:
		if m.open < 0 {
			m.messages = append(m.messages, Message{
				ID:             uuid.NewString(),
				Role:           model.RoleAssistant,
				ConversationID: m.id,
				Timestamp:      m.now(),
				Streaming:      true,
			})
			m.open = len(m.messages) - 1
			m.phase = PhaseReceiving
		}
		m.messages[m.open].Content += frame.Text
	case model.StatusComplete:
		m.closeOpenLocked()
		m.phase = PhaseIdle
	case model.StatusError:
		m.failLocked(frame.Error)
	default:
		m.mu.Unlock()
		return false
	}

	publish := m.changedLocked()
	m.mu.Unlock()
	publish()
	return true
}

// Load replaces the log with history for conversation id. Frames for the
// previous conversation are ignored from here on.
func (m *Machine) Load(id int64, history []model.Message) {
	msgs := make([]Message, 0, len(history))
	for _, h := range history {
		msgs = append(msgs, Message{
			ID:             strconv.FormatInt(h.ID, 10),
			Role:           h.Role,
			Content:        h.Content,
			ConversationID: id,
			Timestamp:      h.CreatedAt,
		})
	}

	m.mu.Lock()
	m.resetLocked(id, msgs)
	publish := m.changedLocked()
	m.mu.Unlock()
	publish()
}

// Clear starts a new chat: no conversation and an empty log.
func (m *Machine) Clear() {
	m.mu.Lock()
	m.resetLocked(0, nil)
	publish := m.changedLocked()
	m.mu.Unlock()
	publish()
}

// AdoptID binds id to the conversation of the given epoch. It fails if the
// conversation was replaced since, or already has a different ID.
func (m *Machine) AdoptID(epoch uint64, id int64) bool {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return false
	}
	if m.id != 0 {
		same := m.id == id
		m.mu.Unlock()
		return same
	}
	m.adoptLocked(id)
	publish := m.changedLocked()
	m.mu.Unlock()
	publish()
	return true
}

// Abort ends a pending request that never reached the server. The optimistic
// user message stays in the log.
func (m *Machine) Abort(reason string) {
	m.mu.Lock()
	if m.phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	m.closeOpenLocked()
	m.phase = PhaseIdle
	m.err = reason
	publish := m.changedLocked()
	m.mu.Unlock()
	publish()
}

// Interrupt ends a pending request whose reply can no longer arrive, such as
// after the connection dropped. It is reported like a stream error.
func (m *Machine) Interrupt(reason string) {
	m.mu.Lock()
	if m.phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	m.failLocked(reason)
	publish := m.changedLocked()
	m.mu.Unlock()
	publish()
}

// failLocked closes the open reply as-is and records the failure as an
// assistant entry so the log itself shows what went wrong.
func (m *Machine) failLocked(reason string) {
	m.closeOpenLocked()
	m.messages = append(m.messages, Message{
		ID:             uuid.NewString(),
		Role:           model.RoleAssistant,
		Content:        reason,
		ConversationID: m.id,
		Timestamp:      m.now(),
		Failed:         true,
	})
	m.phase = PhaseIdle
	m.err = reason
}

func (m *Machine) closeOpenLocked() {
	if m.open >= 0 {
		m.messages[m.open].Streaming = false
		m.open = -1
	}
}

func (m *Machine) adoptLocked(id int64) {
	m.id = id
	for i := range m.messages {
		if m.messages[i].ConversationID == 0 {
			m.messages[i].ConversationID = id
		}
	}
}

func (m *Machine) resetLocked(id int64, msgs []Message) {
	if m.id != 0 && m.id != id {
		m.retired[m.id] = struct{}{}
	}
	delete(m.retired, id)
	m.id = id
	m.messages = msgs
	m.epoch++
	m.phase = PhaseIdle
	m.open = -1
	m.err = ""
}

// changedLocked stamps the current view and returns a function that publishes
// it once m.mu is released.
func (m *Machine) changedLocked() func() {
	m.seq++
	seq := m.seq
	v := m.viewLocked()
	return func() { m.views.PublishSeq(seq, v) }
}

func (m *Machine) viewLocked() View {
	msgs := make([]Message, len(m.messages))
	copy(msgs, m.messages)
	return View{
		ConversationID: m.id,
		Messages:       msgs,
		Phase:          m.phase,
		Loading:        m.phase != PhaseIdle,
		Err:            m.err,
		Epoch:          m.epoch,
	}
}
