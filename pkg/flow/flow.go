// Package flow carries WARP frames between a client and a server.
//
// A [Conn] exchanges whole frames: one Recon envelope per message. It is
// implemented over WebSocket text messages, over a single QUIC stream with
// varint length-prefixed frames and in memory for tests.
package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
)

var (
	ErrConnClosed    = errors.New("flow: connection closed")
	ErrFrameTooLarge = errors.New("flow: frame too large")
)

// MaxFrameSize bounds the frames accepted from length-prefixed transports.
const MaxFrameSize = 16 << 20

// Conn is a bidirectional frame connection.
//
// `Send` MUST NOT be called concurrently, use a [Sender] to share a Conn
// between writers. `Recv` MUST NOT be called concurrently either, but `Send`
// and `Recv` can be called at the same time.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	io.Closer
}

// Dialer opens a Conn to the host of u.
type Dialer func(ctx context.Context, u *url.URL) (Conn, error)

// closedErr tags the errors meaning the peer or ourselves ended the
// connection so callers can match them with `errors.Is(err, ErrConnClosed)`.
func closedErr(err error) error {
	if err == nil || errors.Is(err, ErrConnClosed) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrConnClosed, err)
	}
	return err
}

// ctxErr prefers the context error when the context ended the operation.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
