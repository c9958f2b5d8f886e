package warp

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricWarpConnOpenCount      = []string{"warp", "connection", "open", "count"}
	MetricWarpConnCloseCount     = []string{"warp", "connection", "close", "count"}
	MetricWarpConnErrorCount     = []string{"warp", "connection", "error", "count"}
	MetricWarpFrameInCount       = []string{"warp", "frame", "in", "count"}
	MetricWarpFrameInBytes       = []string{"warp", "frame", "in", "bytes"}
	MetricWarpFrameOutCount      = []string{"warp", "frame", "out", "count"}
	MetricWarpFrameOutBytes      = []string{"warp", "frame", "out", "bytes"}
	MetricWarpFrameDroppedCount  = []string{"warp", "frame", "dropped", "count"}
	MetricWarpManagerOpenCount   = []string{"warp", "manager", "open", "count"}
	MetricWarpManagerCloseCount  = []string{"warp", "manager", "close", "count"}
	MetricWarpErrorReportedCount = []string{"warp", "error", "reported", "count"}
)

type TelemetryLabel string

var (
	LabelError  TelemetryLabel = "error"
	LabelHost   TelemetryLabel = "host"
	LabelNode   TelemetryLabel = "node"
	LabelLane   TelemetryLabel = "lane"
	LabelTag    TelemetryLabel = "tag"
	LabelReason TelemetryLabel = "reason"
	LabelCause  TelemetryLabel = "cause"
	LabelKind   TelemetryLabel = "kind"
	LabelView   TelemetryLabel = "view"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

// withLabels never aliases base so callers can keep appending to their
// static labels.
func withLabels(base []metrics.Label, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
