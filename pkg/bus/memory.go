package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ananta888/hubgate/pkg/logging"
	"github.com/ananta888/hubgate/pkg/telemetry"
)

// DefaultMemoryBacklog is the per-subscriber queue of a MemoryBus.
const DefaultMemoryBacklog = 256

// MemoryOption configures a MemoryBus.
type MemoryOption func(*MemoryBus)

// WithMemoryLogger reports dropped messages through l.
func WithMemoryLogger(l *logging.Logger) MemoryOption {
	return func(b *MemoryBus) { b.logger = logging.OrNop(l).Named(logging.ComponentBus) }
}

// WithMemoryBacklog sets how many undelivered messages a subscriber may hold
// before new ones are dropped.
func WithMemoryBacklog(n int) MemoryOption {
	return func(b *MemoryBus) {
		if n > 0 {
			b.backlog = n
		}
	}
}

// MemoryBus delivers system events inside one process. Publish never blocks:
// a subscriber whose backlog is full misses the message, which is logged and
// counted.
type MemoryBus struct {
	logger  *logging.Logger
	backlog int
	dropped atomic.Int64
	closed  atomic.Bool

	mu   sync.RWMutex
	subs map[string]*memorySubscription
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	b := &MemoryBus{
		logger:  logging.Nop(),
		backlog: DefaultMemoryBacklog,
		subs:    make(map[string]*memorySubscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dropped returns how many deliveries were skipped because a subscriber was
// behind.
func (b *MemoryBus) Dropped() int64 { return b.dropped.Load() }

func (b *MemoryBus) Publish(_ context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	msg := &Message{Subject: subject, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !subjectMatches(sub.pattern, subject) {
			continue
		}
		if !sub.offer(msg) {
			b.dropped.Add(1)
			telemetry.BusMessagesDropped.WithLabelValues(sub.pattern).Inc()
			b.logger.Warn("bus subscriber behind, message dropped",
				"subject", subject,
				"pattern", sub.pattern,
				"backlog", b.backlog,
			)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		id:      uuid.NewString(),
		pattern: subject,
		inbox:   make(chan *Message, b.backlog),
		handler: handler,
		bus:     b,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		sub.shut()
		delete(b.subs, id)
	}
	return nil
}

func (b *MemoryBus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		sub.shut()
		delete(b.subs, id)
	}
}

type memorySubscription struct {
	id      string
	pattern string
	inbox   chan *Message
	handler MessageHandler
	bus     *MemoryBus
	closed  atomic.Bool
}

// offer queues msg without blocking. Callers hold the bus read lock, so the
// inbox cannot be closed underneath the send.
func (s *memorySubscription) offer(msg *Message) bool {
	if s.closed.Load() {
		return true
	}
	select {
	case s.inbox <- msg:
		return true
	default:
		return false
	}
}

// shut closes the inbox. Callers hold the bus write lock.
func (s *memorySubscription) shut() {
	if !s.closed.Swap(true) {
		close(s.inbox)
	}
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.remove(s.id)
	return nil
}

func (s *memorySubscription) Subject() string { return s.pattern }

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.inbox:
			if !ok || s.closed.Load() {
				return
			}
			s.handler(msg)
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		}
	}
}

// subjectMatches applies NATS wildcard rules: "*" matches exactly one token
// and a trailing ">" matches one or more.
func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	want := strings.Split(pattern, ".")
	got := strings.Split(subject, ".")
	for i, tok := range want {
		if tok == ">" {
			return i == len(want)-1 && len(got) > i
		}
		if i >= len(got) {
			return false
		}
		if tok != "*" && tok != got[i] {
			return false
		}
	}
	return len(want) == len(got)
}
