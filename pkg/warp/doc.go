// Package warp maps WARP envelopes to and from structural values.
//
// Every WARP frame carries one envelope: a record tagged with the envelope
// type whose attribute holds the routing headers, followed by the body.
//
//	@command(node:"/unit/1",lane:info)"hello"
//	@sync(node:"/unit/1",lane:info,prio:0.5)
//
// Lane-addressed envelopes (command, event, synced) only carry a node and a
// lane. Link-addressed envelopes (link, sync, linked, unlinked) also carry a
// priority and a rate, both omitted from the wire when zero.
package warp
