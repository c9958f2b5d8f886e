package warp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/oklog/ulid/v2"
	"github.com/raskyld/warp/pkg/structure"
	envelope "github.com/raskyld/warp/pkg/warp"
	"github.com/samber/lo"
)

// Client links downlinks to remote lanes, sharing one connection per host.
type Client struct {
	config config
	logger *slog.Logger
	msink  metrics.MetricSink
	sink   *exceptionSink
	pool   *pool

	// open views, closed on shutdown.
	views map[ulid.ULID]*downlink

	// synchronisation
	lk       sync.Mutex
	shutdown bool
}

func Create(opts ...Option) (*Client, error) {
	c := &Client{
		config: defaultConfig(),
		views:  make(map[ulid.ULID]*downlink),
	}

	for _, opt := range opts {
		err := opt(&c.config)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	// Logging implementations.
	if c.config.logHandler != nil {
		c.logger = slog.New(c.config.logHandler)
	} else {
		c.logger = slog.Default()
	}

	// Metrics implementations.
	if c.config.msink == nil {
		c.config.msink = metrics.Default()
	}
	c.msink = c.config.msink

	c.sink = newExceptionSink(&c.config, c.logger, c.msink)
	c.pool = newPool(&c.config, c.logger, c.msink, c.sink)
	return c, nil
}

// ValueDownlink returns an unopened view of a value lane.
func (c *Client) ValueDownlink() *ValueDownlink {
	return &ValueDownlink{newDownlink(c, kindValue)}
}

// MapDownlink returns an unopened view of a map lane.
func (c *Client) MapDownlink() *MapDownlink {
	return &MapDownlink{newDownlink(c, kindMap)}
}

// EventDownlink returns an unopened view of an event lane.
func (c *Client) EventDownlink() *EventDownlink {
	return &EventDownlink{newDownlink(c, kindEvent)}
}

// Command sends body to a lane and returns once it is written. If a view
// of this client is linking the lane, the command waits for the lane to be
// linked first.
func (c *Client) Command(ctx context.Context, hostURI, nodeURI, laneURI string, body any) error {
	if hostURI == "" || nodeURI == "" || laneURI == "" {
		return ErrMissingAddress
	}

	host, err := NormalizeHostURI(hostURI)
	if err != nil {
		return err
	}

	value, err := structure.Converter{}.ToValue(body)
	if err != nil {
		return err
	}

	cx, err := c.pool.subscribe(ctx, host)
	if err != nil {
		return err
	}
	defer c.pool.unsubscribe(cx)

	if m := cx.lookup(nodeURI + "/" + laneURI); m != nil {
		if err := m.wait(ctx, false); err != nil {
			return err
		}
	}
	return cx.send(ctx, envelope.NewCommand(nodeURI, laneURI, value), true)
}

func (c *Client) track(d *downlink) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.views[d.id] = d
}

func (c *Client) untrack(d *downlink) {
	c.lk.Lock()
	defer c.lk.Unlock()
	delete(c.views, d.id)
}

// Shutdown closes every view and connection. Pending operations fail with
// a `*ClosedError`.
func (c *Client) Shutdown() error {
	c.lk.Lock()
	if c.shutdown {
		c.lk.Unlock()
		return nil
	}
	c.shutdown = true
	views := lo.Values(c.views)
	c.lk.Unlock()

	start := time.Now()
	c.logger.Info("shutting down...")

	err := c.pool.shutdown()

	c.logger.Info("shutdown: close views", "count", len(views))
	for _, view := range views {
		view.Close()
	}
	c.sink.close()

	c.logger.Info("shutdown: completed", "duration", time.Since(start))
	return err
}
