// Package warp is a client for the WARP protocol: streaming links to the
// lanes of remote nodes, carried as Recon text envelopes over WebSocket.
//
// ## How it works
//
// A `Client` hands out *downlinks*, local views of a remote lane. A view is
// configured with a host, a node and a lane, then `Open`ed:
//
//	client, _ := warp.Create(warp.WithLog(handler))
//	light := client.ValueDownlink()
//	light.SetHostURI("warp://localhost:9001")
//	light.SetNodeURI("/house")
//	light.SetLaneURI("light")
//	light.DidSet(func(newValue, oldValue any) { ... })
//	light.Open(ctx)
//
// Under the hood, views of the same host share one connection, and views of
// the same lane share one link: the first view sends `sync` (or `link` for
// event lanes), the following ones are replayed the state already received.
// The connection is closed when its last view is.
//
// Three kinds of views exist:
//
// * `ValueDownlink` mirrors a single value.
// * `MapDownlink` mirrors keyed entries, ordered by the Recon text of keys.
// * `EventDownlink` only forwards events.
//
// Callbacks never run on the connection goroutine, every view has its own
// ordered queue.
//
// ## Errors
//
// Operations made on behalf of the caller return their error. Errors that
// happen asynchronously, like a lane the host does not know or a lost
// connection, are logged, counted and passed to `WithErrorHandler`.
// `WithTerminateOnError` exits the process instead.
//
// There is no reconnection: when the host closes the connection, waiting
// operations fail with a `*ClosedError` and views must be opened again.
//
// ## Packages
//
// * `pkg/structure` is the value model: records of attributes, slots and
// values.
// * `pkg/recon` parses and writes Recon.
// * `pkg/warp` maps Recon records to protocol envelopes.
// * `pkg/flow` carries frames over WebSocket, QUIC or memory.
package warp
