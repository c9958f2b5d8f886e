package warp

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/warp/pkg/flow"
)

const (
	defaultDialTimeout  = 30 * time.Second
	defaultCloseTimeout = 10 * time.Second
	defaultSendBuffer   = 64
)

type config struct {
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
	dialer       flow.Dialer
	dialTimeout  time.Duration
	closeTimeout time.Duration
	sendBuffer   uint
	errorHandler func(error)
	terminate    bool
	exit         func(code int)
}

func defaultConfig() config {
	return config{
		dialer:       flow.WebSocketDialer(websocket.DefaultDialer),
		dialTimeout:  defaultDialTimeout,
		closeTimeout: defaultCloseTimeout,
		sendBuffer:   defaultSendBuffer,
		exit:         os.Exit,
	}
}

// Option to pass to `Create`
type Option func(*config) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted by
// your `Client`.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the Client.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithDialer replaces the WebSocket transport, for example with
// `flow.QUICDialer` or a dialer returning `flow.NewLocalPair` ends.
func WithDialer(dialer flow.Dialer) Option {
	return func(c *config) error {
		if dialer == nil {
			return errors.New("dialer must not be nil")
		}
		c.dialer = dialer
		return nil
	}
}

// WithDialTimeout controls how much time we are willing to wait for a
// host to accept a connection.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = defaultDialTimeout
		}
		c.dialTimeout = timeout
		return nil
	}
}

// WithCloseTimeout bounds how long closing a connection waits for queued
// frames to flush.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = defaultCloseTimeout
		}
		c.closeTimeout = timeout
		return nil
	}
}

// WithSendBuffer sets how many outbound frames can be queued per
// connection before senders block.
func WithSendBuffer(size uint) Option {
	return func(c *config) error {
		c.sendBuffer = size
		return nil
	}
}

// WithErrorHandler is called with every error raised outside of a caller's
// goroutine: protocol errors, decoding failures and lost connections.
//
// Handlers run one at a time, in report order, on a goroutine of their own.
// They may close views or shut the client down.
func WithErrorHandler(handler func(error)) Option {
	return func(c *config) error {
		c.errorHandler = handler
		return nil
	}
}

// WithTerminateOnError exits the process with status 1 on the first
// reported error. exit defaults to `os.Exit`.
func WithTerminateOnError(exit func(code int)) Option {
	return func(c *config) error {
		c.terminate = true
		if exit != nil {
			c.exit = exit
		}
		return nil
	}
}
