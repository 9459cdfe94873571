package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ananta888/hubgate/pkg/bus"
	"github.com/ananta888/hubgate/pkg/credential"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/eventstream"
	"github.com/ananta888/hubgate/pkg/session"
)

// TokenRotatedEvent is the system event announcing a new session token.
const TokenRotatedEvent = "auth.token_rotated"

// SystemFeed is the process's single upstream system-event subscription,
// republished on a bus for any number of local consumers.
type SystemFeed struct {
	sub  *eventstream.Subscription
	done chan struct{}

	mu       sync.Mutex
	relayErr error
}

// StartSystemFeed subscribes to the hub's system events and relays each one
// to b under prefix. It fails with an AuthRequired error when no session is
// available.
func (c *Client) StartSystemFeed(ctx context.Context, b bus.MessageBus, prefix string, explicit credential.Credential) (*SystemFeed, error) {
	sub, err := c.events.SystemEvents(ctx, c.baseURL, explicit)
	if err != nil {
		return nil, err
	}
	f := &SystemFeed{sub: sub, done: make(chan struct{})}
	relay := bus.NewRelay(b, prefix, c.logger)
	go func() {
		defer close(f.done)
		if err := relay.Run(ctx, sub.Events()); err != nil && ctx.Err() == nil {
			f.mu.Lock()
			f.relayErr = err
			f.mu.Unlock()
			sub.Close()
		}
	}()
	return f, nil
}

// Done is closed once the feed has stopped.
func (f *SystemFeed) Done() <-chan struct{} { return f.done }

// Err reports why the feed stopped.
func (f *SystemFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.relayErr != nil {
		return f.relayErr
	}
	return f.sub.Err()
}

// Close stops the upstream subscription and waits for the relay to drain.
func (f *SystemFeed) Close() {
	f.sub.Close()
	<-f.done
}

type rotationEvent struct {
	Token string `json:"token"`
	Data  struct {
		Token string `json:"token"`
	} `json:"data"`
}

// WatchTokenRotation replaces the session token whenever a rotation event
// arrives on b. Unsubscribe the returned subscription to stop watching.
func WatchTokenRotation(ctx context.Context, b bus.MessageBus, prefix string, store *session.Store) (bus.Subscription, error) {
	if store == nil {
		return nil, gwerrors.New(gwerrors.ErrCodeInvalidInput, "token rotation needs a session store")
	}
	subject := bus.SubjectFor(prefix, TokenRotatedEvent)
	return b.Subscribe(ctx, subject, func(msg *bus.Message) {
		var ev rotationEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		token := strings.TrimSpace(ev.Data.Token)
		if token == "" {
			token = strings.TrimSpace(ev.Token)
		}
		if token != "" {
			store.SetToken(token)
		}
	})
}
