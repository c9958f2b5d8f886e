package warp

// EventDownlink receives the events of a lane without keeping state.
type EventDownlink struct {
	*downlink
}

func (e *EventDownlink) OnEvent(fn func(event any)) error {
	return e.configure(func() { e.onEvent = fn })
}
