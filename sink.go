package warp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/warp/pkg/flow"
	"github.com/raskyld/warp/pkg/recon"
	"github.com/raskyld/warp/pkg/structure"
	envelope "github.com/raskyld/warp/pkg/warp"
)

// exceptionSink receives the errors of asynchronous work. Every error is
// logged and counted where it happens. The user handler and the exit run in
// order on the sink queue, so a handler may close views or shut the client
// down.
type exceptionSink struct {
	logger    *slog.Logger
	msink     metrics.MetricSink
	labels    []metrics.Label
	handler   func(error)
	terminate bool
	exit      func(code int)
	dispatch  *dispatcher
}

func newExceptionSink(cfg *config, logger *slog.Logger, msink metrics.MetricSink) *exceptionSink {
	return &exceptionSink{
		logger:    logger,
		msink:     msink,
		labels:    cfg.metricLabels,
		handler:   cfg.errorHandler,
		terminate: cfg.terminate,
		exit:      cfg.exit,
		dispatch:  newDispatcher(),
	}
}

func (s *exceptionSink) report(err error, attrs ...any) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	s.logger.Error("asynchronous operation failed", append(attrs, LabelError.L(err))...)
	s.msink.IncrCounterWithLabels(
		MetricWarpErrorReportedCount,
		1.0,
		withLabels(s.labels, LabelKind.M(errorKind(err))),
	)

	if s.handler == nil && !s.terminate {
		return
	}
	s.dispatch.enqueue(func() {
		if s.handler != nil {
			s.handler(err)
		}
		if s.terminate {
			s.exit(1)
		}
	})
}

// close lets the queued handlers run, reports after close are only logged.
func (s *exceptionSink) close() {
	s.dispatch.stop()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrLaneNotFound):
		return "lane_not_found"
	case errors.Is(err, ErrUnlinked):
		return "unlinked"
	case errors.Is(err, ErrDial):
		return "dial"
	case errors.Is(err, flow.ErrConnClosed):
		return "connection_closed"
	case errors.Is(err, envelope.ErrInvalidFormTag),
		errors.Is(err, envelope.ErrMissingHeader),
		errors.Is(err, envelope.ErrMalformedMapBody):
		return "protocol"
	case errors.As(err, new(*recon.ParseError)):
		return "parse"
	case errors.Is(err, structure.ErrUnknownClass),
		errors.Is(err, structure.ErrFieldMismatch):
		return "conversion"
	default:
		return "unknown"
	}
}
