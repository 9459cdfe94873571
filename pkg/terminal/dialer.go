package terminal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	gwerrors "github.com/ananta888/hubgate/pkg/errors"
)

const (
	defaultDialTimeout = 15 * time.Second
	maxDialErrorBytes  = 4 << 10
)

//go:generate mockgen -package=terminal -destination=mock_dialer_test.go github.com/ananta888/hubgate/pkg/terminal Dialer,Conn

// Conn is the socket surface a Session drives.
type Conn interface {
	// Read blocks for the next text frame.
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, payload []byte) error
	Close(reason string) error
}

// Dialer opens terminal sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// ErrClosedNormally is returned by Conn.Read when the peer closed cleanly.
var ErrClosedNormally = errors.New("terminal closed")

// WebSocketDialer dials with nhooyr.io/websocket.
type WebSocketDialer struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Header     http.Header
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, dialError(resp, err)
	}
	conn.SetReadLimit(1 << 20)
	return &wsConn{conn: conn}, nil
}

func dialError(resp *http.Response, err error) error {
	if resp == nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return gwerrors.Timeout(err, "terminal dial")
		}
		return gwerrors.Transport(err, "terminal dial")
	}
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxDialErrorBytes))
		resp.Body.Close()
	}
	msg := "terminal handshake rejected"
	if len(body) > 0 {
		msg += ": " + string(body)
	}
	return gwerrors.HTTP(resp.StatusCode, http.StatusText(resp.StatusCode), msg)
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) (string, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return "", ErrClosedNormally
			}
			if errors.Is(err, io.EOF) {
				return "", ErrClosedNormally
			}
			return "", err
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		return string(data), nil
	}
}

func (c *wsConn) Write(ctx context.Context, payload []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
