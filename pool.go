package warp

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"unique"

	"github.com/hashicorp/go-metrics"
	"github.com/samber/lo"
)

// pool shares one connection per host between every subscriber.
type pool struct {
	cfg    *config
	logger *slog.Logger
	msink  metrics.MetricSink
	sink   *exceptionSink

	// graceful termination asked, new subscribers are refused.
	gracefulTerm atomic.Bool

	hostsCxs  map[unique.Handle[string]]*connection
	hostsLock sync.Mutex
}

func newPool(cfg *config, logger *slog.Logger, msink metrics.MetricSink, sink *exceptionSink) *pool {
	return &pool{
		cfg:      cfg,
		logger:   logger,
		msink:    msink,
		sink:     sink,
		hostsCxs: make(map[unique.Handle[string]]*connection),
	}
}

// subscribe returns the open connection to host. Every successful call
// must be balanced by `unsubscribe`.
func (p *pool) subscribe(ctx context.Context, host Host) (*connection, error) {
	if p.gracefulTerm.Load() {
		return nil, ErrClientClosed
	}

	p.hostsLock.Lock()
	cx, ok := p.hostsCxs[host.Key]
	if !ok {
		cx = newConnection(p, host)
		p.hostsCxs[host.Key] = cx
	}
	cx.subscribers++
	p.hostsLock.Unlock()

	if err := cx.open(ctx); err != nil {
		p.unsubscribe(cx)
		return nil, err
	}
	return cx, nil
}

// unsubscribe closes the connection when its last subscriber leaves.
func (p *pool) unsubscribe(cx *connection) {
	p.hostsLock.Lock()
	cx.subscribers--
	last := cx.subscribers <= 0
	if last && p.hostsCxs[cx.host.Key] == cx {
		delete(p.hostsCxs, cx.host.Key)
	}
	p.hostsLock.Unlock()

	if last {
		if err := cx.close(ClosedByLastSubscriber); err != nil {
			cx.logger.Warn("error closing connection", LabelError.L(err))
		}
	}
}

// evict forgets a connection the remote closed. Its subscribers still
// unsubscribe as usual.
func (p *pool) evict(cx *connection) {
	p.hostsLock.Lock()
	defer p.hostsLock.Unlock()
	if p.hostsCxs[cx.host.Key] == cx {
		delete(p.hostsCxs, cx.host.Key)
	}
}

func (p *pool) size() int {
	p.hostsLock.Lock()
	defer p.hostsLock.Unlock()
	return len(p.hostsCxs)
}

func (p *pool) shutdown() error {
	if !p.gracefulTerm.CompareAndSwap(false, true) {
		// no-op because it was already shutdown
		return nil
	}

	p.hostsLock.Lock()
	cxs := lo.Values(p.hostsCxs)
	clear(p.hostsCxs)
	p.hostsLock.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(cxs))
	for i, cx := range cxs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = cx.close(ClosedByShutdown)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
