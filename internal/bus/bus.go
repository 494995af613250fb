package bus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-agents/internal/telemetry"
	apperrors "github.com/noah-isme/sma-timetable-agents/pkg/errors"
)

// Bus is an in-process transport with per-agent inbox semantics. Delivery is
// point-to-point and non-blocking: a full inbox drops the message, which
// callers must treat as "message lost or delayed".
type Bus struct {
	mu      sync.RWMutex
	inboxes map[string]*Inbox
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// New builds an empty bus.
func New(logger *zap.Logger, metrics *telemetry.Metrics) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		inboxes: make(map[string]*Inbox),
		logger:  logger.Named("bus"),
		metrics: metrics,
	}
}

// Register creates the inbox for addr. Re-registering an address replaces the
// previous inbox.
func (b *Bus) Register(addr string, buffer int) *Inbox {
	if buffer <= 0 {
		buffer = 64
	}
	inbox := &Inbox{addr: addr, ch: make(chan Envelope, buffer)}

	b.mu.Lock()
	b.inboxes[addr] = inbox
	b.mu.Unlock()

	return inbox
}

// Unregister removes the inbox for addr. In-flight sends to the address fail
// with ErrNotRegistered afterwards.
func (b *Bus) Unregister(addr string) {
	b.mu.Lock()
	delete(b.inboxes, addr)
	b.mu.Unlock()
}

// Send delivers the envelope to the receiver's inbox without blocking.
func (b *Bus) Send(env Envelope) error {
	b.mu.RLock()
	inbox, ok := b.inboxes[env.Receiver]
	b.mu.RUnlock()

	if !ok {
		return apperrors.Clone(apperrors.ErrNotRegistered, "no inbox for "+env.Receiver)
	}

	select {
	case inbox.ch <- env:
		b.metrics.ObserveSend(string(env.Performative))
		return nil
	default:
		b.metrics.ObserveDrop()
		b.logger.Warn("inbox full, message dropped",
			zap.String("receiver", env.Receiver),
			zap.String("performative", string(env.Performative)))
		return nil
	}
}

// Inbox is the receive side of one agent's mailbox. A single goroutine is
// expected to consume it.
type Inbox struct {
	addr string
	ch   chan Envelope
}

// Address returns the owning agent address.
func (in *Inbox) Address() string {
	return in.addr
}

// Receive waits up to timeout for the next message. The boolean is false when
// the window elapsed or the context was cancelled; timeouts are control
// events, not errors.
func (in *Inbox) Receive(ctx context.Context, timeout time.Duration) (Envelope, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Envelope{}, false
	case <-timer.C:
		return Envelope{}, false
	case env := <-in.ch:
		return env, true
	}
}

// ReceiveMatch waits up to timeout for a message satisfying match, discarding
// everything else (stragglers from earlier rounds).
func (in *Inbox) ReceiveMatch(ctx context.Context, timeout time.Duration, match func(Envelope) bool) (Envelope, bool) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Envelope{}, false
		}
		env, ok := in.Receive(ctx, remaining)
		if !ok {
			return Envelope{}, false
		}
		if match(env) {
			return env, true
		}
	}
}
