// Package bus fans hub system events out to in-process or NATS subscribers so
// a single upstream subscription can feed any number of consumers.
// The default implementation uses NATS, with an in-memory option for tests and
// single-process use.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/ananta888/hubgate/pkg/logging"
)

var (
	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is the pub/sub surface the relay needs.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Supports wildcards: "hubgate.system.*" matches "hubgate.system.task".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Empty selects the in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the connect timeout.
	Timeout time.Duration

	// Logger receives drop reports from the in-memory bus.
	Logger *logging.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:    "hubgate",
		Timeout: 10 * time.Second,
	}
}

// New returns a NATS bus when cfg.URL is set, otherwise a MemoryBus.
func New(cfg Config) (MessageBus, error) {
	if cfg.URL == "" {
		return NewMemoryBus(WithMemoryLogger(cfg.Logger)), nil
	}
	return NewNATSBus(cfg)
}
