package warp

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCfg   = errors.New("client: invalid options")
	ErrClientClosed = errors.New("client: shut down")

	ErrInvalidScheme  = errors.New("pool: host uri scheme must be ws, wss, warp or warps")
	ErrInvalidHostURI = errors.New("pool: invalid host uri")
	ErrDial           = errors.New("pool: could not connect to host")

	ErrDecodeFrame = errors.New("connection: could not decode frame")

	ErrLaneNotFound    = errors.New("downlink: lane not found")
	ErrUnlinked        = errors.New("downlink: unlinked by the remote host")
	ErrDownlinkOpen    = errors.New("downlink: already open")
	ErrDownlinkNotOpen = errors.New("downlink: not open")
	ErrDownlinkKind    = errors.New("downlink: lane already linked by another kind of downlink")
	ErrMissingAddress  = errors.New("downlink: host, node and lane uris are required")
)

const (
	ClosedByUnknown ClosedBy = iota
	ClosedByLastSubscriber
	ClosedByShutdown
	ClosedByRemote
)

// ClosedBy tells why a connection ended.
type ClosedBy uint8

func (cause ClosedBy) String() string {
	switch cause {
	case ClosedByLastSubscriber:
		return "last subscriber left"
	case ClosedByShutdown:
		return "client shutdown"
	case ClosedByRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ClosedError is returned to operations still waiting on a connection when
// it ends.
type ClosedError struct {
	Cause ClosedBy
	Err   error
}

func (e *ClosedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection closed by %s", e.Cause)
	}
	return fmt.Sprintf("connection closed by %s: %s", e.Cause, e.Err)
}

func (e *ClosedError) Unwrap() error {
	return e.Err
}
