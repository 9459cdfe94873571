package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ananta888/hubgate/pkg/auth"
	"github.com/ananta888/hubgate/pkg/clock"
	"github.com/ananta888/hubgate/pkg/credential"
	"github.com/ananta888/hubgate/pkg/directory"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/session"
)

func newClient(srv *httptest.Server, sessionToken string, opts Options) *Client {
	dir := directory.New(directory.Identity{
		Name: "hub", BaseURL: srv.URL, Role: directory.RoleHub, SharedSecret: "hubsecret",
	})
	opts.Resolver = auth.NewResolver(dir, session.NewStore(sessionToken), nil, nil)
	opts.HTTPClient = srv.Client()
	return New(opts)
}

func writeEvent(w http.ResponseWriter, data string) {
	fmt.Fprintf(w, "data: %s\n\n", data)
	w.(http.Flusher).Flush()
}

func recv(t *testing.T, sub *Subscription) json.RawMessage {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events closed early: %v", sub.Err())
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitDone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not finish")
	}
}

func TestTaskLogsEndToEnd(t *testing.T) {
	var gotToken, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("token")
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, `{"command":"echo hi","timestamp":1}`)
	}))
	defer srv.Close()

	c := newClient(srv, "", Options{})
	sub, err := c.TaskLogs(context.Background(), srv.URL, "T1", credential.Credential{})
	require.NoError(t, err)

	ev := recv(t, sub)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(ev, &entry))
	assert.Equal(t, map[string]any{"command": "echo hi", "timestamp": float64(1)}, entry)

	waitDone(t, sub)
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.NoError(t, sub.Err())

	assert.Equal(t, "/tasks/T1/stream-logs", gotPath)
	assert.Equal(t, 2, strings.Count(gotToken, "."), "shared secret should be minted into the token param")
}

func TestMalformedFramesDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, `{not json`)
		writeEvent(w, `{"ok":true}`)
	}))
	defer srv.Close()

	sub, err := newClient(srv, "", Options{}).Subscribe(context.Background(), srv.URL, "/custom", credential.Credential{})
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(recv(t, sub)))
	waitDone(t, sub)
	assert.NoError(t, sub.Err())
}

func TestReconnectBackoffDoublesAndResets(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1, 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 3:
			writeEvent(w, `{"n":3}`)
			panic(http.ErrAbortHandler)
		default:
			writeEvent(w, `{"n":4}`)
		}
	}))
	defer srv.Close()

	fc := clock.NewFake(time.Unix(0, 0))
	c := newClient(srv, "", Options{Clock: fc})
	sub, err := c.Subscribe(context.Background(), srv.URL, "/feed", credential.Credential{})
	require.NoError(t, err)
	defer sub.Close()

	// first failure waits the initial 2s
	require.True(t, fc.BlockUntil(1, 3*time.Second))
	fc.Advance(2 * time.Second)

	// second failure waits 4s
	require.True(t, fc.BlockUntil(1, 3*time.Second))
	fc.Advance(2 * time.Second)
	assert.Equal(t, 1, fc.Waiters(), "second delay should be 4s")
	fc.Advance(2 * time.Second)

	assert.JSONEq(t, `{"n":3}`, string(recv(t, sub)))

	// connection succeeded, so the next delay is back to 2s
	require.True(t, fc.BlockUntil(1, 3*time.Second))
	fc.Advance(2 * time.Second)

	assert.JSONEq(t, `{"n":4}`, string(recv(t, sub)))
	waitDone(t, sub)
	assert.NoError(t, sub.Err())
	assert.Equal(t, int32(4), hits.Load())
}

func TestUnauthorizedIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sub, err := newClient(srv, "", Options{}).Subscribe(context.Background(), srv.URL, "/feed", credential.Credential{})
	require.NoError(t, err)
	waitDone(t, sub)

	assert.Equal(t, http.StatusUnauthorized, gwerrors.StatusCode(sub.Err()))
	assert.Equal(t, int32(1), hits.Load())
}

func TestSystemEventsRequireSession(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := newClient(srv, "", Options{}).SystemEvents(context.Background(), srv.URL, credential.Credential{})
	assert.True(t, gwerrors.IsAuthRequired(err))
	assert.Equal(t, int32(0), hits.Load())
}

func TestSystemEventsUseSessionToken(t *testing.T) {
	tokens := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		assert.Equal(t, SystemEventsRoute, r.URL.Path)
		writeEvent(w, `{"type":"agent.online"}`)
	}))
	defer srv.Close()

	sub, err := newClient(srv, "user session/token", Options{}).SystemEvents(context.Background(), srv.URL, credential.Credential{})
	require.NoError(t, err)
	defer sub.Close()

	recv(t, sub)
	assert.Equal(t, "user session/token", <-tokens)
}

func TestCloseStopsDeliveryImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; ; i++ {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			writeEvent(w, fmt.Sprintf(`{"i":%d}`, i))
		}
	}))
	defer srv.Close()

	sub, err := newClient(srv, "", Options{Buffer: 8}).Subscribe(context.Background(), srv.URL, "/firehose", credential.Credential{})
	require.NoError(t, err)

	recv(t, sub)
	sub.Close()

	_, open := <-sub.Events()
	assert.False(t, open, "no events may be observed after Close returns")
	assert.NoError(t, sub.Err())
	sub.Close()
}

func TestContextCancelEndsSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := newClient(srv, "", Options{}).Subscribe(ctx, srv.URL, "/idle", credential.Credential{})
	require.NoError(t, err)
	cancel()
	waitDone(t, sub)
	assert.ErrorIs(t, sub.Err(), context.Canceled)
}

func TestReplayDedupedAcrossReconnect(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, `{"command":"a","timestamp":1}`)
		writeEvent(w, `{"command":"b","timestamp":2}`)
		if hits.Add(1) == 1 {
			panic(http.ErrAbortHandler)
		}
		writeEvent(w, `{"command":"c","timestamp":3}`)
	}))
	defer srv.Close()

	c := newClient(srv, "", Options{InitialBackoff: time.Millisecond})
	sub, err := c.TaskLogs(context.Background(), srv.URL, "T9", credential.Credential{}, WithDeduper(NewDeduper(0)))
	require.NoError(t, err)

	var commands []string
	for ev := range sub.Events() {
		var entry struct{ Command string }
		require.NoError(t, json.Unmarshal(ev, &entry))
		commands = append(commands, entry.Command)
	}
	assert.NoError(t, sub.Err())
	assert.Equal(t, []string{"a", "b", "c"}, commands)
	assert.Equal(t, int32(2), hits.Load())
}

func TestTaskLogsRequiresID(t *testing.T) {
	_, err := New(Options{}).TaskLogs(context.Background(), "http://hub", " ", credential.Credential{})
	assert.True(t, gwerrors.IsCode(err, gwerrors.ErrCodeInvalidInput))
}
