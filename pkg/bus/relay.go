package bus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ananta888/hubgate/pkg/logging"
)

// DefaultSubjectPrefix roots every relayed system event.
const DefaultSubjectPrefix = "hubgate.system"

// SubjectFor maps an event type such as "auth.token_rotated" to
// "<prefix>.auth.token_rotated". Wildcard and whitespace characters are
// replaced so the result is always a literal subject.
func SubjectFor(prefix, eventType string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	eventType = strings.Trim(strings.TrimSpace(eventType), ".")
	if eventType == "" {
		return prefix + ".untyped"
	}
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, eventType)
	return prefix + "." + clean
}

// Relay republishes one upstream event feed onto a MessageBus.
type Relay struct {
	bus    MessageBus
	prefix string
	logger *logging.Logger
}

// NewRelay creates a relay publishing under prefix.
func NewRelay(b MessageBus, prefix string, logger *logging.Logger) *Relay {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Relay{bus: b, prefix: prefix, logger: logging.OrNop(logger).Named(logging.ComponentBus)}
}

// Run publishes every event until events is closed or ctx is done. Publish
// failures are logged and do not stop the relay.
func (r *Relay) Run(ctx context.Context, events <-chan json.RawMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			subject := SubjectFor(r.prefix, eventType(ev))
			if err := r.bus.Publish(ctx, subject, ev); err != nil {
				if err == ErrClosed {
					return err
				}
				r.logger.Warn("relay publish failed", "subject", subject, "error", err)
			}
		}
	}
}

func eventType(raw json.RawMessage) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.Type
}
