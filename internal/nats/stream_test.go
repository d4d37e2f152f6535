package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/internal/model"
)

type fakeJetStream struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.subjects))}, nil
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "conv.7.msg.assistant", MessageSubject(7, model.RoleAssistant))
	assert.Equal(t, "conv.7.event.stream_error", EventSubject(7, model.EventTypeStreamError))
}

func TestStreamManager_Publish(t *testing.T) {
	ctx := context.Background()
	js := &fakeJetStream{}
	m := &StreamManager{js: js}

	seq, err := m.PublishMessage(ctx, &model.Message{ID: 1, ConversationID: 9, Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = m.PublishEvent(ctx, &model.ConversationEvent{ID: "e1", ConversationID: 9, Type: model.EventTypeStreamError, Reason: "boom"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	assert.Equal(t, []string{"conv.9.msg.user", "conv.9.event.stream_error"}, js.subjects)

	var msg model.Message
	require.NoError(t, json.Unmarshal(js.payloads[0], &msg))
	assert.Equal(t, "hi", msg.Content)
}

func TestStreamManager_PublishError(t *testing.T) {
	boom := errors.New("no responders")
	m := &StreamManager{js: &fakeJetStream{err: boom}}

	_, err := m.PublishMessage(context.Background(), &model.Message{ConversationID: 1, Role: model.RoleUser})
	assert.ErrorIs(t, err, boom)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), config.NATSConfig{URL: "nats://127.0.0.1:1"}, nil)
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	seq, err := p.PublishMessage(context.Background(), &model.Message{})
	assert.NoError(t, err)
	assert.Zero(t, seq)
}
