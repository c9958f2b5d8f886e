package flow

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"google.golang.org/protobuf/encoding/protowire"
)

// ALPN negotiated by [QUICDialer] when the TLS config does not set one.
const ALPN = "warp"

const (
	QErrClosed         = quic.ApplicationErrorCode(0x0)
	QErrStreamClosed   = quic.StreamErrorCode(0xC)
	defaultQUICPort    = "443"
	defaultIdleTimeout = time.Minute
)

// QUICDialer opens one QUIC connection per Conn and carries the frames on
// its first bidirectional stream.
func QUICDialer(tlsConf *tls.Config, quicConf *quic.Config) Dialer {
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	if len(tlsConf.NextProtos) == 0 {
		tlsConf = tlsConf.Clone()
		tlsConf.NextProtos = []string{ALPN}
	}
	if quicConf == nil {
		quicConf = &quic.Config{
			Versions:       []quic.Version{quic.Version2, quic.Version1},
			MaxIdleTimeout: defaultIdleTimeout,
		}
	}

	return func(ctx context.Context, u *url.URL) (Conn, error) {
		addr := u.Host
		if u.Port() == "" {
			addr = net.JoinHostPort(u.Hostname(), defaultQUICPort)
		}

		qc, err := quic.DialAddr(ctx, addr, tlsConf, quicConf)
		if err != nil {
			return nil, err
		}

		stream, err := qc.OpenStreamSync(ctx)
		if err != nil {
			_ = qc.CloseWithError(QErrClosed, "")
			return nil, err
		}
		return NewQUICConn(qc, stream), nil
	}
}

// QUICConn exchanges varint length-prefixed frames over a QUIC stream.
type QUICConn struct {
	conn   quic.Connection
	stream quic.Stream
	reader *bufio.Reader

	closeOnce sync.Once
}

var _ Conn = (*QUICConn)(nil)

// NewQUICConn takes ownership of conn, closing the QUICConn closes it.
func NewQUICConn(conn quic.Connection, stream quic.Stream) *QUICConn {
	return &QUICConn{
		conn:   conn,
		stream: stream,
		reader: bufio.NewReader(stream),
	}
}

func (c *QUICConn) Send(ctx context.Context, frame []byte) error {
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(defaultWriteTimeout)
	}
	_ = c.stream.SetWriteDeadline(dl)
	defer func() { _ = c.stream.SetWriteDeadline(time.Time{}) }()

	stop := context.AfterFunc(ctx, func() {
		_ = c.stream.SetWriteDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 0, binary.MaxVarintLen64+len(frame))
	buf = protowire.AppendVarint(buf, uint64(len(frame)))
	buf = append(buf, frame...)
	if _, err := c.stream.Write(buf); err != nil {
		return ctxErr(ctx, quicErr(err))
	}
	return nil
}

func (c *QUICConn) Recv(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.stream.SetReadDeadline(dl)
		defer func() { _ = c.stream.SetReadDeadline(time.Time{}) }()
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.stream.SetReadDeadline(time.Now())
	})
	defer stop()

	prefix := make([]byte, 0, binary.MaxVarintLen64)
	for len(prefix) < binary.MaxVarintLen64 {
		b, err := c.reader.ReadByte()
		if err != nil {
			return nil, ctxErr(ctx, quicErr(err))
		}
		prefix = append(prefix, b)
		if b < 0x80 {
			break
		}
	}

	size, n := protowire.ConsumeVarint(prefix)
	if err := protowire.ParseError(n); err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(c.reader, frame); err != nil {
		return nil, ctxErr(ctx, quicErr(err))
	}
	return frame, nil
}

func (c *QUICConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stream.CancelRead(QErrStreamClosed)
		err = errors.Join(
			c.stream.Close(),
			c.conn.CloseWithError(QErrClosed, ""),
		)
	})
	return err
}

func quicErr(err error) error {
	var (
		appErr    *quic.ApplicationError
		streamErr *quic.StreamError
		idleErr   *quic.IdleTimeoutError
	)
	if errors.As(err, &appErr) || errors.As(err, &streamErr) || errors.As(err, &idleErr) {
		return fmt.Errorf("%w: %w", ErrConnClosed, err)
	}
	return closedErr(err)
}
