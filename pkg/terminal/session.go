// Package terminal drives a remote terminal over a full-duplex socket with an
// explicit connection state machine. Read-only sessions never write to the
// socket.
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ananta888/hubgate/pkg/auth"
	"github.com/ananta888/hubgate/pkg/clock"
	"github.com/ananta888/hubgate/pkg/credential"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/logging"
	"github.com/ananta888/hubgate/pkg/telemetry"
)

// State is the connection state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateDisconnected State = "disconnected"
)

// Lifecycle event types synthesized by the session. Framed server messages
// keep their own type (ready, output, exit, ...).
const (
	EventOpen   = "open"
	EventClose  = "close"
	EventError  = "error"
	EventOutput = "output"
)

// ErrNotConnected is returned by SendInput and Resize on an interactive
// session that has no open socket.
var ErrNotConnected = errors.New("terminal not connected")

// Event is a lifecycle or server message.
type Event struct {
	Type string
	Data json.RawMessage
	At   time.Time
}

// Options identifies one terminal connection.
type Options struct {
	BaseURL      string
	Mode         Mode
	Credential   credential.Credential
	ForwardParam string
}

// Key is the identity used to suppress duplicate connects.
type Key struct {
	BaseURL      string
	Mode         Mode
	Token        string
	ForwardParam string
}

func (o Options) key() Key {
	return Key{
		BaseURL:      strings.TrimRight(strings.TrimSpace(o.BaseURL), "/"),
		Mode:         o.Mode,
		Token:        o.Credential.Value(),
		ForwardParam: o.ForwardParam,
	}
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Dialer   Dialer
	Resolver *auth.Resolver
	Clock    clock.Clock
	Logger   *logging.Logger
}

// Session is one logical terminal. Connect may be called repeatedly; an
// identical key while connecting or connected is a no-op.
type Session struct {
	dialer   Dialer
	resolver *auth.Resolver
	clock    clock.Clock
	logger   *logging.Logger

	mu     sync.Mutex
	state  State
	key    Key
	active bool
	conn   Conn
	gen    uint64
	cancel context.CancelFunc

	output *feed[string]
	events *feed[Event]
	states *feed[State]
}

// NewSession creates an idle session.
func NewSession(opts SessionOptions) *Session {
	s := &Session{
		dialer:   opts.Dialer,
		resolver: opts.Resolver,
		clock:    opts.Clock,
		logger:   logging.OrNop(opts.Logger).Named(logging.ComponentTerminal),
		state:    StateIdle,
		output:   newFeed[string](),
		events:   newFeed[Event](),
		states:   newLatestFeed[State](stateBacklog),
	}
	if s.dialer == nil {
		s.dialer = WebSocketDialer{}
	}
	if s.resolver == nil {
		s.resolver = auth.NewResolver(nil, nil, nil, opts.Logger)
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	return s
}

// Output streams raw output chunks.
func (s *Session) Output() (<-chan string, func()) { return s.output.subscribe() }

// Events streams lifecycle events and framed server messages.
func (s *Session) Events() (<-chan Event, func()) { return s.events.subscribe() }

// States streams state transitions.
func (s *Session) States() (<-chan State, func()) { return s.states.subscribe() }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the mode of the current or last connection.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key.Mode
}

// Connect opens the socket in the background. It returns an error only for
// invalid options; dial and transport failures move the session to the
// error state and emit an error event. ctx bounds the connection's lifetime.
func (s *Session) Connect(ctx context.Context, opts Options) error {
	if opts.Mode == "" {
		opts.Mode = ModeInteractive
	}
	if !opts.Mode.Valid() {
		return gwerrors.New(gwerrors.ErrCodeInvalidInput, "unknown terminal mode").WithContext("mode", opts.Mode)
	}
	key := opts.key()
	if key.BaseURL == "" {
		return gwerrors.New(gwerrors.ErrCodeInvalidInput, "terminal base url is required")
	}
	if _, err := BuildURL(key.BaseURL, key.Mode, "", key.ForwardParam); err != nil {
		return err
	}

	s.mu.Lock()
	if s.active && s.key == key && (s.state == StateConnecting || s.state == StateConnected) {
		s.mu.Unlock()
		s.logger.Debug("connect ignored, identical key already active")
		return nil
	}
	old, oldCancel := s.conn, s.cancel
	s.gen++
	gen := s.gen
	s.key = key
	s.active = true
	s.conn = nil
	connCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	if old != nil {
		_ = old.Close("reconnecting")
	}

	go s.dial(connCtx, gen, key, opts.Credential)
	return nil
}

func (s *Session) dial(ctx context.Context, gen uint64, key Key, explicit credential.Credential) {
	cred, err := s.resolver.Resolve(key.BaseURL, explicit)
	if err != nil {
		s.fail(gen, err)
		return
	}
	target, err := BuildURL(key.BaseURL, key.Mode, cred.Value(), key.ForwardParam)
	if err != nil {
		s.fail(gen, err)
		return
	}

	conn, err := s.dialer.Dial(ctx, target)
	if err != nil {
		s.fail(gen, err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = conn.Close("superseded")
		return
	}
	s.conn = conn
	s.setStateLocked(StateConnected)
	s.emitLocked(Event{Type: EventOpen})
	s.mu.Unlock()

	s.read(ctx, gen, conn)
}

func (s *Session) read(ctx context.Context, gen uint64, conn Conn) {
	for {
		text, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			if s.gen == gen {
				s.conn = nil
				if errors.Is(err, ErrClosedNormally) {
					s.setStateLocked(StateDisconnected)
					s.emitLocked(Event{Type: EventClose})
				} else {
					s.failLocked(err)
				}
			}
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.dispatchLocked(text)
		s.mu.Unlock()
	}
}

func (s *Session) dispatchLocked(text string) {
	switch f := DecodeFrame(text).(type) {
	case Framed:
		s.emitLocked(Event{Type: f.Type, Data: f.Data})
		if f.Type == EventOutput {
			if chunk, ok := f.Chunk(); ok {
				s.output.publish(chunk)
			}
		}
	case Raw:
		s.output.publish(f.Text)
		data, _ := json.Marshal(map[string]string{"chunk": f.Text})
		s.emitLocked(Event{Type: EventOutput, Data: data})
	}
}

func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.failLocked(err)
}

func (s *Session) failLocked(err error) {
	s.logger.Warn("terminal failed", "error", err)
	data, _ := json.Marshal(map[string]string{"message": err.Error()})
	s.setStateLocked(StateError)
	s.emitLocked(Event{Type: EventError, Data: data})
}

// SendInput forwards text to the remote terminal. Read-only sessions discard
// it without touching the socket.
func (s *Session) SendInput(ctx context.Context, text string) error {
	return s.write(ctx, encodeInput(text))
}

// Resize reports the local window size. Gated like SendInput.
func (s *Session) Resize(ctx context.Context, rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return gwerrors.New(gwerrors.ErrCodeInvalidInput, "terminal size must be positive")
	}
	return s.write(ctx, encodeResize(rows, cols))
}

func (s *Session) write(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	mode, state, conn := s.key.Mode, s.state, s.conn
	s.mu.Unlock()

	if mode != ModeInteractive {
		return nil
	}
	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, payload); err != nil {
		return gwerrors.Transport(err, "terminal write")
	}
	return nil
}

// Disconnect closes the socket. Unless the session is idle it ends in the
// disconnected state. No reconnect is attempted. No event from the closed
// connection is delivered after Disconnect returns.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.gen++
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel = nil, nil
	s.active = false
	if s.state != StateIdle {
		s.setStateLocked(StateDisconnected)
		if conn != nil {
			s.emitLocked(Event{Type: EventClose})
		}
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close("client disconnect")
	}
}

// Close disconnects and ends every feed.
func (s *Session) Close() {
	s.Disconnect()
	s.output.close()
	s.events.close()
	s.states.close()
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.StateChanged(string(s.state), string(next))
	s.state = next
	telemetry.TerminalTransitions.WithLabelValues(string(next)).Inc()
	s.states.publish(next)
}

func (s *Session) emitLocked(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.clock.Now()
	}
	s.events.publish(ev)
}
