package warp

import "sync"

// dispatcher runs the callbacks of one view in order on its own goroutine
// so the connection never waits on user code.
type dispatcher struct {
	lk      sync.Mutex
	queue   []func()
	stopped bool
	wakeCh  chan struct{}
	doneCh  chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
	go d.run()
	return d
}

// enqueue never blocks. Calls after stop are ignored.
func (d *dispatcher) enqueue(fn func()) {
	d.lk.Lock()
	if d.stopped {
		d.lk.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
	d.lk.Unlock()
}

// stop lets the queued callbacks run then ends the goroutine. It does not
// wait so it is safe to call from a callback.
func (d *dispatcher) stop() {
	d.lk.Lock()
	defer d.lk.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.wakeCh)
}

// done is closed once every callback queued before stop has run.
func (d *dispatcher) done() <-chan struct{} {
	return d.doneCh
}

func (d *dispatcher) run() {
	defer close(d.doneCh)
	for {
		_, ok := <-d.wakeCh

		d.lk.Lock()
		batch := d.queue
		d.queue = nil
		d.lk.Unlock()

		for _, fn := range batch {
			fn()
		}

		if !ok {
			return
		}
	}
}
