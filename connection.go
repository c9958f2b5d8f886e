package warp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/warp/pkg/flow"
	envelope "github.com/raskyld/warp/pkg/warp"
	"github.com/samber/lo"
)

type connStatus uint8

const (
	statusClosed connStatus = iota
	statusConnecting
	statusIdle
	statusRunning
)

func (s connStatus) String() string {
	switch s {
	case statusConnecting:
		return "connecting"
	case statusIdle:
		return "idle"
	case statusRunning:
		return "running"
	default:
		return "closed"
	}
}

// connection is the single transport to one host. Every manager of the
// host shares it and it lives as long as it has subscribers.
type connection struct {
	host   Host
	pool   *pool
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
	sink   *exceptionSink

	// guarded by the pool hostsLock.
	subscribers int

	// requested close, lost transports are not reported after it is set.
	gracefulTerm atomic.Bool

	lk       sync.Mutex
	status   connStatus
	readyCh  chan struct{}
	openErr  error
	conn     flow.Conn
	sender   *flow.Sender
	closedBy ClosedBy
	managers map[string]*manager
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newConnection(p *pool, host Host) *connection {
	return &connection{
		host:     host,
		pool:     p,
		logger:   p.logger.With(LabelHost.L(host)),
		msink:    p.msink,
		labels:   withLabels(p.cfg.metricLabels, LabelHost.M(host.String())),
		sink:     p.sink,
		managers: make(map[string]*manager),
	}
}

// open dials the host unless another caller already did, concurrent
// callers wait for the same dial.
func (cx *connection) open(ctx context.Context) error {
	cx.lk.Lock()
	switch {
	case cx.gracefulTerm.Load():
		cx.lk.Unlock()
		return &ClosedError{Cause: cx.closedBy}
	case cx.status == statusConnecting:
		readyCh := cx.readyCh
		cx.lk.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-readyCh:
		}
		cx.lk.Lock()
		defer cx.lk.Unlock()
		return cx.openErr
	case cx.status != statusClosed:
		cx.lk.Unlock()
		return nil
	}

	cx.status = statusConnecting
	cx.readyCh = make(chan struct{})
	cx.openErr = nil
	readyCh := cx.readyCh
	cx.lk.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, cx.pool.cfg.dialTimeout)
	conn, err := cx.pool.cfg.dialer(dialCtx, cx.host.URL)
	cancel()

	cx.lk.Lock()
	defer func() {
		close(readyCh)
		cx.lk.Unlock()
	}()

	if err != nil {
		cx.status = statusClosed
		cx.openErr = fmt.Errorf("%w: %s: %w", ErrDial, cx.host, err)
		cx.msink.IncrCounterWithLabels(
			MetricWarpConnErrorCount,
			1.0,
			withLabels(cx.labels, LabelError.M("dial")),
		)
		cx.logger.Warn("could not connect", LabelError.L(err))
		return cx.openErr
	}

	if cx.gracefulTerm.Load() {
		// closed while dialing
		conn.Close()
		cx.openErr = &ClosedError{Cause: cx.closedBy}
		return cx.openErr
	}

	recvCtx, recvCancel := context.WithCancel(context.Background())
	cx.conn = conn
	cx.sender = flow.NewSender(conn, cx.pool.cfg.sendBuffer)
	cx.cancel = recvCancel
	cx.status = statusIdle
	cx.wg.Add(1)
	go cx.receive(recvCtx, conn)

	cx.msink.IncrCounterWithLabels(MetricWarpConnOpenCount, 1.0, cx.labels)
	cx.logger.Debug("connection established")
	return nil
}

// attach binds view to the manager of its lane, creating it if needed.
func (cx *connection) attach(ctx context.Context, view *downlink) (*manager, error) {
	cx.lk.Lock()
	if cx.status != statusIdle && cx.status != statusRunning {
		cx.lk.Unlock()
		return nil, &ClosedError{Cause: cx.closedBy}
	}

	route := view.nodeURI + "/" + view.laneURI
	m, ok := cx.managers[route]
	if !ok {
		m = newManager(cx, view.nodeURI, view.laneURI, view.kind)
		cx.managers[route] = m
	}
	first, err := m.join(view)
	if err != nil {
		cx.lk.Unlock()
		return nil, err
	}
	cx.status = statusRunning
	cx.lk.Unlock()

	if first {
		if err := m.open(ctx); err != nil {
			cx.detach(view)
			return nil, err
		}
	}
	return m, nil
}

// detach removes view from its manager and drops the manager once empty.
func (cx *connection) detach(view *downlink) {
	m := view.manager
	if m == nil {
		return
	}

	cx.lk.Lock()
	defer cx.lk.Unlock()
	if !m.leave(view) {
		return
	}
	if cx.managers[m.route] == m {
		delete(cx.managers, m.route)
	}
	if len(cx.managers) == 0 && cx.status == statusRunning {
		cx.status = statusIdle
	}
}

func (cx *connection) lookup(route string) *manager {
	cx.lk.Lock()
	defer cx.lk.Unlock()
	return cx.managers[route]
}

// send queues env and, if wait is set, waits for it to be written.
func (cx *connection) send(ctx context.Context, env *envelope.Envelope, wait bool) error {
	text, err := env.ToRecon()
	if err != nil {
		return err
	}

	cx.lk.Lock()
	sender := cx.sender
	open := cx.status == statusIdle || cx.status == statusRunning
	cause := cx.closedBy
	cx.lk.Unlock()
	if !open || sender == nil {
		return &ClosedError{Cause: cause}
	}

	frame := []byte(text)
	done, err := sender.Send(ctx, frame)
	if err != nil {
		return cx.sendErr(err)
	}

	labels := withLabels(cx.labels, LabelTag.M(env.Tag))
	cx.msink.IncrCounterWithLabels(MetricWarpFrameOutCount, 1.0, labels)
	cx.msink.IncrCounterWithLabels(MetricWarpFrameOutBytes, float32(len(frame)), labels)

	if !wait {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return cx.sendErr(err)
		}
		return nil
	}
}

func (cx *connection) sendErr(err error) error {
	if !errors.Is(err, flow.ErrConnClosed) {
		return err
	}
	cx.lk.Lock()
	defer cx.lk.Unlock()
	return &ClosedError{Cause: cx.closedBy, Err: err}
}

func (cx *connection) receive(ctx context.Context, conn flow.Conn) {
	defer cx.wg.Done()
	defer conn.Close()

	for {
		frame, err := conn.Recv(ctx)
		if err != nil {
			if !cx.gracefulTerm.Load() {
				cx.lost(err)
			}
			return
		}

		cx.msink.IncrCounterWithLabels(MetricWarpFrameInCount, 1.0, cx.labels)
		cx.msink.IncrCounterWithLabels(MetricWarpFrameInBytes, float32(len(frame)), cx.labels)
		cx.dispatch(frame)
	}
}

func (cx *connection) dispatch(frame []byte) {
	env, err := envelope.ParseEnvelope(string(frame))
	if err != nil {
		cx.msink.IncrCounterWithLabels(
			MetricWarpFrameDroppedCount,
			1.0,
			withLabels(cx.labels, LabelReason.M("decode")),
		)
		cx.sink.report(fmt.Errorf("%w: %w", ErrDecodeFrame, err), LabelHost.L(cx.host))
		return
	}

	m := cx.lookup(env.Route())
	if m == nil {
		cx.msink.IncrCounterWithLabels(
			MetricWarpFrameDroppedCount,
			1.0,
			withLabels(cx.labels, LabelReason.M("unmatched_route")),
		)
		cx.logger.Debug("no downlink for envelope", "envelope", env)
		return
	}

	m.receive(env)
}

// lost ends a connection the remote or the network broke. Waiters get a
// `ClosedError` and the pool forgets the connection, the next subscriber
// dials again.
func (cx *connection) lost(err error) {
	cx.lk.Lock()
	if cx.status == statusClosed {
		cx.lk.Unlock()
		return
	}
	cx.status = statusClosed
	cx.closedBy = ClosedByRemote
	conn, sender := cx.conn, cx.sender
	managers := lo.Values(cx.managers)
	cx.managers = make(map[string]*manager)
	cx.lk.Unlock()

	conn.Close()
	sender.Close()
	cx.pool.evict(cx)

	closedErr := &ClosedError{Cause: ClosedByRemote, Err: err}
	for _, m := range managers {
		m.fail(closedErr)
	}

	cx.msink.IncrCounterWithLabels(
		MetricWarpConnCloseCount,
		1.0,
		withLabels(cx.labels, LabelCause.M(ClosedByRemote.String())),
	)
	cx.sink.report(closedErr, LabelHost.L(cx.host))
}

// close flushes queued frames for at most closeTimeout, then closes the
// transport and waits for the receive loop to end.
func (cx *connection) close(cause ClosedBy) error {
	cx.gracefulTerm.Store(true)

	cx.lk.Lock()
	if cx.status == statusClosed {
		if cx.closedBy == ClosedByUnknown {
			cx.closedBy = cause
		}
		cx.lk.Unlock()
		return nil
	}
	wasOpen := cx.status != statusConnecting
	cx.status = statusClosed
	cx.closedBy = cause
	conn, sender, cancel := cx.conn, cx.sender, cx.cancel
	managers := lo.Values(cx.managers)
	cx.managers = make(map[string]*manager)
	cx.lk.Unlock()

	for _, m := range managers {
		m.fail(&ClosedError{Cause: cause})
	}

	if !wasOpen {
		// open closes the transport when the dial returns.
		return nil
	}

	flushed := make(chan struct{})
	go func() {
		sender.Close()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(cx.pool.cfg.closeTimeout):
		cx.logger.Warn("gave up flushing outbound frames", "timeout", cx.pool.cfg.closeTimeout)
	}

	err := conn.Close()
	cancel()
	cx.wg.Wait()

	cx.msink.IncrCounterWithLabels(
		MetricWarpConnCloseCount,
		1.0,
		withLabels(cx.labels, LabelCause.M(cause.String())),
	)
	cx.logger.Debug("connection closed", LabelCause.L(cause.String()))

	if errors.Is(err, flow.ErrConnClosed) {
		return nil
	}
	return err
}
