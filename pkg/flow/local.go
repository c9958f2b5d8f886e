package flow

import (
	"context"
	"sync"
)

// LocalConn is one end of an in-memory connection.
type LocalConn struct {
	in  <-chan []byte
	out chan<- []byte

	closeCh     chan struct{}
	peerCloseCh <-chan struct{}
	closeOnce   sync.Once
}

var _ Conn = (*LocalConn)(nil)

// NewLocalPair returns two connected ends, each buffering up to bufferSize
// frames in each direction.
func NewLocalPair(bufferSize uint) (*LocalConn, *LocalConn) {
	aToB := make(chan []byte, bufferSize)
	bToA := make(chan []byte, bufferSize)
	a := &LocalConn{in: bToA, out: aToB, closeCh: make(chan struct{})}
	b := &LocalConn{in: aToB, out: bToA, closeCh: make(chan struct{})}
	a.peerCloseCh = b.closeCh
	b.peerCloseCh = a.closeCh
	return a, b
}

func (c *LocalConn) Send(ctx context.Context, frame []byte) error {
	cloned := make([]byte, len(frame))
	copy(cloned, frame)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCh:
		return ErrConnClosed
	case <-c.peerCloseCh:
		return ErrConnClosed
	case c.out <- cloned:
		return nil
	}
}

// Recv still delivers the frames buffered before the peer closed.
func (c *LocalConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, ErrConnClosed
	case frame := <-c.in:
		return frame, nil
	case <-c.peerCloseCh:
		select {
		case frame := <-c.in:
			return frame, nil
		default:
			return nil, ErrConnClosed
		}
	}
}

func (c *LocalConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	return nil
}
