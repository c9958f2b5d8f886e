package flow

import (
	"context"
	"sync"
)

type outbound struct {
	frame []byte
	done  chan error
}

// Sender is a thread-safe writer serializing frames onto a Conn.
type Sender struct {
	conn Conn

	writeCh    chan outbound
	closeCh    chan struct{}
	mainLoopWg sync.WaitGroup

	// handle Close sync.
	writer sync.WaitGroup
	err    error
	lk     sync.Mutex
}

func NewSender(conn Conn, bufferSize uint) *Sender {
	s := &Sender{
		conn:    conn,
		writeCh: make(chan outbound, bufferSize),
		closeCh: make(chan struct{}),
	}

	s.mainLoopWg.Add(1)
	go s.run()

	return s
}

// Send queues frame and returns once it is queued. The returned channel
// receives the result of the write.
func (s *Sender) Send(ctx context.Context, frame []byte) (<-chan error, error) {
	s.lk.Lock()
	if s.err != nil {
		s.lk.Unlock()
		return nil, s.err
	}
	s.writer.Add(1)
	defer s.writer.Done()
	s.lk.Unlock()

	msg := outbound{frame: frame, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closeCh:
		return nil, s.err
	case s.writeCh <- msg:
	}

	return msg.done, nil
}

// SendWait queues frame and waits for it to be written.
func (s *Sender) SendWait(ctx context.Context, frame []byte) error {
	done, err := s.Send(ctx, frame)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Close stops accepting frames and flushes the queued ones. It does not
// close the underlying Conn.
func (s *Sender) Close() error {
	s.closeWith(ErrConnClosed)
	s.mainLoopWg.Wait()
	return nil
}

// Err is the reason the Sender stopped, nil while it runs.
func (s *Sender) Err() error {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.err
}

func (s *Sender) closeWith(cause error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.err != nil {
		return
	}
	s.err = cause
	close(s.closeCh)
	s.writer.Wait()
	close(s.writeCh)
}

func (s *Sender) run() {
	defer s.mainLoopWg.Done()
	var failed error
	for msg := range s.writeCh {
		if failed != nil {
			msg.done <- failed
			continue
		}

		err := s.conn.Send(context.Background(), msg.frame)
		msg.done <- err
		if err != nil {
			failed = err
			s.closeWith(err)
		}
	}
}
