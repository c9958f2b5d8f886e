package flow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 10 * time.Second
	closeGracePeriod    = time.Second
)

// WebSocketDialer dials `ws` and `wss` URLs, d defaults to
// `websocket.DefaultDialer`.
func WebSocketDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return func(ctx context.Context, u *url.URL) (Conn, error) {
		ws, resp, err := d.DialContext(ctx, u.String(), nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
			}
			return nil, err
		}
		return NewWebSocketConn(ws), nil
	}
}

// WebSocketConn exchanges frames as WebSocket text messages.
type WebSocketConn struct {
	ws *websocket.Conn

	writeLk   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ Conn = (*WebSocketConn)(nil)

// NewWebSocketConn wraps an established connection, client or server side.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{ws: ws}
}

func (c *WebSocketConn) Send(ctx context.Context, frame []byte) error {
	c.writeLk.Lock()
	defer c.writeLk.Unlock()

	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(defaultWriteTimeout)
	}
	if err := c.ws.SetWriteDeadline(dl); err != nil {
		return closedErr(err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return ctxErr(ctx, wsErr(err))
	}
	return nil
}

// Recv skips control messages. Cancelling ctx leaves the connection
// unusable for further reads.
func (c *WebSocketConn) Recv(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
		defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, frame, err := c.ws.ReadMessage()
		if err != nil {
			return nil, ctxErr(ctx, wsErr(err))
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return frame, nil
		}
	}
}

// Close performs the closing handshake on a best-effort basis.
func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func wsErr(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("%w: %w", ErrConnClosed, err)
	}
	return closedErr(err)
}
