package warp

import "context"

// ValueDownlink mirrors a value lane.
type ValueDownlink struct {
	*downlink
}

// DidSet is called with every new value of the lane. A view opened after
// the lane synced first receives the current value with a nil old value.
func (v *ValueDownlink) DidSet(fn func(newValue, oldValue any)) error {
	return v.configure(func() { v.didSet = fn })
}

// Get returns the last value received, nil if none. With wait, it first
// waits for the lane to be synced.
func (v *ValueDownlink) Get(ctx context.Context, wait bool) (any, error) {
	m, err := v.openManager()
	if err != nil {
		return nil, err
	}
	if wait {
		if err := m.wait(ctx, true); err != nil {
			return nil, err
		}
	}
	return m.currentValue(), nil
}

// Set sends value as a command once the lane is linked. With blocking, it
// returns when the command is written, else failures go to the error
// handler.
func (v *ValueDownlink) Set(ctx context.Context, value any, blocking bool) error {
	m, err := v.openManager()
	if err != nil {
		return err
	}
	body, err := v.toValue(value)
	if err != nil {
		return err
	}
	return m.command(ctx, body, blocking)
}
