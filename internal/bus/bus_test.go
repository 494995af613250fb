package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/noah-isme/sma-timetable-agents/pkg/errors"
)

func TestSendAndReceive(t *testing.T) {
	b := New(nil, nil)
	inbox := b.Register("room-1", 4)

	env := NewEnvelope(CFP, "prof-1", "room-1")
	env.ConversationID = "neg-prof-1-2"
	require.NoError(t, b.Send(env))

	got, ok := inbox.Receive(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, env.MessageID, got.MessageID)
	assert.Equal(t, "neg-prof-1-2", got.ConversationID)
	assert.Equal(t, "prof-1", got.Sender)
}

func TestSendToUnknownAddress(t *testing.T) {
	b := New(nil, nil)

	err := b.Send(NewEnvelope(Inform, "prof-1", "nobody"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotRegistered))
}

func TestSendDropsWhenInboxFull(t *testing.T) {
	b := New(nil, nil)
	inbox := b.Register("slow", 1)

	require.NoError(t, b.Send(NewEnvelope(Inform, "a", "slow")))
	// Second send overflows the buffer; delivery is best-effort.
	require.NoError(t, b.Send(NewEnvelope(Inform, "a", "slow")))

	_, ok := inbox.Receive(context.Background(), 50*time.Millisecond)
	assert.True(t, ok)
	_, ok = inbox.Receive(context.Background(), 50*time.Millisecond)
	assert.False(t, ok)
}

func TestReceiveTimeout(t *testing.T) {
	b := New(nil, nil)
	inbox := b.Register("idle", 4)

	start := time.Now()
	_, ok := inbox.Receive(context.Background(), 30*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestReceiveCancelledContext(t *testing.T) {
	b := New(nil, nil)
	inbox := b.Register("idle", 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := inbox.Receive(ctx, time.Second)
	assert.False(t, ok)
}

func TestReceiveMatchDiscardsStragglers(t *testing.T) {
	b := New(nil, nil)
	inbox := b.Register("prof-1", 8)

	stale := NewEnvelope(Propose, "room-1", "prof-1")
	stale.ConversationID = "neg-prof-1-4"
	require.NoError(t, b.Send(stale))

	wanted := NewEnvelope(Inform, "room-1", "prof-1")
	wanted.ConversationID = "neg-prof-1-2"
	require.NoError(t, b.Send(wanted))

	got, ok := inbox.ReceiveMatch(context.Background(), time.Second, func(env Envelope) bool {
		return env.Performative == Inform && env.ConversationID == "neg-prof-1-2"
	})
	require.True(t, ok)
	assert.Equal(t, wanted.MessageID, got.MessageID)

	// The straggler was consumed, not requeued.
	_, ok = inbox.Receive(context.Background(), 30*time.Millisecond)
	assert.False(t, ok)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New(nil, nil)
	b.Register("gone", 4)
	b.Unregister("gone")

	err := b.Send(NewEnvelope(Inform, "a", "gone"))
	assert.Error(t, err)
}

func TestEnvelopeBodyRoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"nombre"`
		Count int    `json:"cantidad"`
	}

	env, err := NewEnvelope(CFP, "a", "b").WithBody(payload{Name: "Calculo", Count: 3})
	require.NoError(t, err)

	var got payload
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "Calculo", got.Name)
	assert.Equal(t, 3, got.Count)
}

func TestEnvelopeMetadata(t *testing.T) {
	env := NewEnvelope(Inform, "a", "b")
	assert.Empty(t, env.Meta(MetaNextOrder))

	env = env.WithMeta(MetaNextOrder, "2")
	assert.Equal(t, "2", env.Meta(MetaNextOrder))
}
