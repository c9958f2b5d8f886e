package warp

import (
	"context"

	"github.com/raskyld/warp/pkg/recon"
	envelope "github.com/raskyld/warp/pkg/warp"
)

// Entry is one key of a map lane.
type Entry struct {
	Key   any
	Value any
}

// MapDownlink mirrors a map lane. Entries are ordered by the Recon text of
// their key.
type MapDownlink struct {
	*downlink
}

func (m *MapDownlink) DidUpdate(fn func(key, newValue, oldValue any)) error {
	return m.configure(func() { m.didUpdate = fn })
}

func (m *MapDownlink) DidRemove(fn func(key, oldValue any)) error {
	return m.configure(func() { m.didRemove = fn })
}

func (m *MapDownlink) synced(ctx context.Context, wait bool) (*manager, error) {
	mgr, err := m.openManager()
	if err != nil {
		return nil, err
	}
	if wait {
		if err := mgr.wait(ctx, true); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

// Get returns the value of key, nil if absent.
func (m *MapDownlink) Get(ctx context.Context, key any, wait bool) (any, error) {
	mgr, err := m.synced(ctx, wait)
	if err != nil {
		return nil, err
	}
	k, err := m.toValue(key)
	if err != nil {
		return nil, err
	}
	value, _ := mgr.entry(recon.Write(k))
	return value, nil
}

// GetAll returns a snapshot of every entry.
func (m *MapDownlink) GetAll(ctx context.Context, wait bool) ([]Entry, error) {
	mgr, err := m.synced(ctx, wait)
	if err != nil {
		return nil, err
	}
	return mgr.entries(), nil
}

// Put asks the remote lane to update key. The local state changes when the
// lane echoes the update.
func (m *MapDownlink) Put(ctx context.Context, key, value any, blocking bool) error {
	mgr, err := m.openManager()
	if err != nil {
		return err
	}
	k, err := m.toValue(key)
	if err != nil {
		return err
	}
	v, err := m.toValue(value)
	if err != nil {
		return err
	}
	return mgr.command(ctx, envelope.UpdateBody(k, v), blocking)
}

// Remove asks the remote lane to remove key.
func (m *MapDownlink) Remove(ctx context.Context, key any, blocking bool) error {
	mgr, err := m.openManager()
	if err != nil {
		return err
	}
	k, err := m.toValue(key)
	if err != nil {
		return err
	}
	return mgr.command(ctx, envelope.RemoveBody(k), blocking)
}
