package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ananta888/hubgate/pkg/auth"
	"github.com/ananta888/hubgate/pkg/credential"
	"github.com/ananta888/hubgate/pkg/directory"
	"github.com/ananta888/hubgate/pkg/session"
)

type fakeConn struct {
	in     chan string
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan string, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) (string, error) {
	select {
	case text := <-c.in:
		return text, nil
	case <-c.closed:
		return "", ErrClosedNormally
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close(string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fakeDialer struct {
	dials atomic.Int32
	err   error

	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, target string) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.urls = append(d.urls, target)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) url(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[i]
}

func newTestSession(d Dialer) *Session {
	dir := directory.New(directory.Identity{
		Name: "alpha", BaseURL: "http://alpha:5001", Role: directory.RoleWorker, SharedSecret: "secret1",
	})
	return NewSession(SessionOptions{
		Dialer:   d,
		Resolver: auth.NewResolver(dir, session.NewStore(""), nil, nil),
	})
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 3*time.Second, 5*time.Millisecond,
		"state stuck at %s, want %s", s.State(), want)
}

func nextEvent(t *testing.T, ch <-chan Event, typ string) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event feed closed")
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event", typ)
			return Event{}
		}
	}
}

func TestConnectMintsTokenIntoURL(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	defer s.Close()

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001", Mode: ModeRead}))
	waitForState(t, s, StateConnected)

	u, err := url.Parse(d.url(0))
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
	assert.Equal(t, "/ws/terminal", u.Path)
	assert.Equal(t, "read", u.Query().Get("mode"))
	assert.NotEmpty(t, u.Query().Get("token"))
}

// idleConn returns a mock socket whose Read blocks until ctx ends.
func idleConn(ctrl *gomock.Controller) *MockConn {
	conn := NewMockConn(ctrl)
	conn.EXPECT().Read(gomock.Any()).DoAndReturn(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}).AnyTimes()
	conn.EXPECT().Close(gomock.Any()).Return(nil).AnyTimes()
	return conn
}

func TestReadModeNeverWrites(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conn := idleConn(ctrl)
	conn.EXPECT().Write(gomock.Any(), gomock.Any()).Times(0)
	d := NewMockDialer(ctrl)
	d.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(conn, nil).Times(1)

	s := newTestSession(d)
	defer s.Close()

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001", Mode: ModeRead}))
	waitForState(t, s, StateConnected)

	require.NoError(t, s.SendInput(context.Background(), "rm -rf /\n"))
	require.NoError(t, s.Resize(context.Background(), 40, 120))
}

func TestInteractiveWritesInputAndResize(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	defer s.Close()

	require.ErrorIs(t, s.SendInput(context.Background(), "x"), ErrNotConnected)

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001"}))
	waitForState(t, s, StateConnected)
	assert.Equal(t, ModeInteractive, s.Mode())

	require.NoError(t, s.SendInput(context.Background(), "ls\n"))
	require.NoError(t, s.Resize(context.Background(), 24, 80))

	conn := d.conn(0)
	require.Equal(t, 2, conn.writeCount())
	assert.JSONEq(t, `{"type":"input","data":"ls\n"}`, string(conn.writes[0]))
	assert.JSONEq(t, `{"type":"resize","data":{"rows":24,"cols":80}}`, string(conn.writes[1]))
}

func TestIdenticalConnectIsIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	release := make(chan struct{})
	conn := idleConn(ctrl)
	d := NewMockDialer(ctrl)
	d.EXPECT().Dial(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ string) (Conn, error) {
		select {
		case <-release:
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}).Times(1)

	s := newTestSession(d)
	defer s.Close()

	opts := Options{BaseURL: "http://alpha:5001", Mode: ModeInteractive, Credential: credential.Raw("secret1")}
	require.NoError(t, s.Connect(context.Background(), opts))
	require.NoError(t, s.Connect(context.Background(), opts))
	assert.Equal(t, StateConnecting, s.State())

	close(release)
	waitForState(t, s, StateConnected)
	require.NoError(t, s.Connect(context.Background(), opts))
}

func TestChangedKeyReconnects(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	defer s.Close()

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001", Mode: ModeRead}))
	waitForState(t, s, StateConnected)
	first := d.conn(0)

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001", Mode: ModeInteractive}))
	require.Eventually(t, func() bool { return d.dials.Load() == 2 }, 3*time.Second, 5*time.Millisecond)
	waitForState(t, s, StateConnected)

	select {
	case <-first.closed:
	default:
		t.Fatal("previous connection should be closed")
	}
	assert.Equal(t, ModeInteractive, s.Mode())
}

func TestRawAndFramedDispatch(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	defer s.Close()

	output, stopOutput := s.Output()
	defer stopOutput()
	events, stopEvents := s.Events()
	defer stopEvents()

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001", Mode: ModeRead}))
	nextEvent(t, events, EventOpen)

	conn := d.conn(0)
	conn.in <- `{"type":"ready","data":{"shell":"bash"}}`
	conn.in <- `{"type":"output","data":{"chunk":"framed"}}`
	conn.in <- "raw bytes"

	ready := nextEvent(t, events, "ready")
	assert.JSONEq(t, `{"shell":"bash"}`, string(ready.Data))

	first := nextEvent(t, events, EventOutput)
	assert.JSONEq(t, `{"chunk":"framed"}`, string(first.Data))
	second := nextEvent(t, events, EventOutput)
	assert.JSONEq(t, `{"chunk":"raw bytes"}`, string(second.Data))

	assert.Equal(t, "framed", <-output)
	assert.Equal(t, "raw bytes", <-output)
}

func TestOutputFeedKeepsEveryChunkForSlowReader(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	defer s.Close()

	output, stop := s.Output()
	defer stop()
	events, stopEvents := s.Events()
	defer stopEvents()

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001", Mode: ModeRead}))
	waitForState(t, s, StateConnected)

	const frames = 1000
	conn := d.conn(0)
	for i := 0; i < frames; i++ {
		conn.in <- fmt.Sprintf("chunk-%d", i)
	}
	require.Eventually(t, func() bool { return len(conn.in) == 0 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < frames; i++ {
		select {
		case chunk := <-output:
			require.Equal(t, fmt.Sprintf("chunk-%d", i), chunk)
		case <-time.After(3 * time.Second):
			t.Fatalf("output feed stalled after %d of %d chunks", i, frames)
		}
	}
	for i := 0; i < frames; i++ {
		ev := nextEvent(t, events, EventOutput)
		require.JSONEq(t, fmt.Sprintf(`{"chunk":"chunk-%d"}`, i), string(ev.Data))
	}
}

func TestDialFailureMovesToError(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	s := newTestSession(d)
	defer s.Close()

	events, stop := s.Events()
	defer stop()

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001"}))
	ev := nextEvent(t, events, EventError)
	assert.Contains(t, string(ev.Data), "connection refused")
	assert.Equal(t, StateError, s.State())
}

func TestConnectRejectsInvalidOptions(t *testing.T) {
	s := newTestSession(&fakeDialer{})
	defer s.Close()

	assert.Error(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001", Mode: "admin"}))
	assert.Error(t, s.Connect(context.Background(), Options{BaseURL: ""}))
	assert.Error(t, s.Connect(context.Background(), Options{BaseURL: "ftp://alpha"}))
	assert.Equal(t, StateIdle, s.State())
}

func TestPeerCloseMovesToDisconnected(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	defer s.Close()

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001"}))
	waitForState(t, s, StateConnected)

	_ = d.conn(0).Close("server gone")
	waitForState(t, s, StateDisconnected)
	assert.ErrorIs(t, s.SendInput(context.Background(), "x"), ErrNotConnected)
}

func TestDisconnect(t *testing.T) {
	s := newTestSession(&fakeDialer{})
	defer s.Close()

	s.Disconnect()
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: "http://alpha:5001"}))
	waitForState(t, s, StateConnected)

	output, stop := s.Output()
	defer stop()

	s.Disconnect()
	assert.Equal(t, StateDisconnected, s.State())

	select {
	case chunk := <-output:
		t.Fatalf("unexpected output after disconnect: %q", chunk)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotMode := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMode <- r.URL.Query().Get("mode")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ready"}`))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var in struct {
				Type string `json:"type"`
				Data string `json:"data"`
			}
			if json.Unmarshal(msg, &in) != nil || in.Type != "input" {
				continue
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(in.Data))
		}
	}))
	defer srv.Close()

	s := NewSession(SessionOptions{Resolver: auth.NewResolver(directory.New(), session.NewStore(""), nil, nil)})
	defer s.Close()

	output, stop := s.Output()
	defer stop()
	events, stopEvents := s.Events()
	defer stopEvents()

	require.NoError(t, s.Connect(context.Background(), Options{BaseURL: srv.URL, Mode: ModeInteractive}))
	nextEvent(t, events, "ready")
	assert.Equal(t, "interactive", <-gotMode)

	require.NoError(t, s.SendInput(context.Background(), "echo hi"))
	select {
	case chunk := <-output:
		assert.Equal(t, "echo hi", chunk)
	case <-time.After(3 * time.Second):
		t.Fatal("no echoed output")
	}
}
