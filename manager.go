package warp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hashicorp/go-metrics"
	"github.com/oklog/ulid/v2"
	"github.com/raskyld/warp/pkg/recon"
	"github.com/raskyld/warp/pkg/structure"
	envelope "github.com/raskyld/warp/pkg/warp"
)

type managerStatus uint8

const (
	managerClosed managerStatus = iota
	managerOpening
	managerOpen
)

func (s managerStatus) String() string {
	switch s {
	case managerOpening:
		return "opening"
	case managerOpen:
		return "open"
	default:
		return "closed"
	}
}

const laneNotFoundTag = "laneNotFound"

// manager owns the model of one node/lane on a connection and fans every
// envelope out to the views attached to it.
type manager struct {
	cx     *connection
	node   string
	lane   string
	route  string
	kind   downlinkKind
	logger *slog.Logger
	labels []metrics.Label

	lk       sync.Mutex
	status   managerStatus
	views    map[ulid.ULID]*downlink
	model    *model
	registry *structure.Registry
	strict   bool
}

func newManager(cx *connection, node, lane string, kind downlinkKind) *manager {
	route := node + "/" + lane
	return &manager{
		cx:       cx,
		node:     node,
		lane:     lane,
		route:    route,
		kind:     kind,
		logger:   cx.logger.With(LabelNode.L(node), LabelLane.L(lane)),
		labels:   withLabels(cx.labels, LabelKind.M(kind.String())),
		views:    make(map[ulid.ULID]*downlink),
		registry: structure.NewRegistry(),
	}
}

func (m *manager) converter() structure.Converter {
	return structure.Converter{Registry: m.registry, Strict: m.strict}
}

// join attaches view, the caller holds the connection lock. It reports
// whether the view is the first one, in which case the caller must link the
// lane with `open`.
func (m *manager) join(view *downlink) (bool, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if view.kind != m.kind {
		return false, fmt.Errorf("%w: %s is a %s lane", ErrDownlinkKind, m.route, m.kind)
	}

	// registrations are merged first so the view deregistrations win.
	m.registry.Merge(view.registry)
	for _, name := range view.deregistered {
		m.registry.Deregister(name)
	}
	m.strict = view.strict
	view.registry = m.registry

	m.views[view.id] = view
	view.manager = m

	if m.status != managerClosed {
		m.replay(view)
		return false, nil
	}

	m.status = managerOpening
	m.model = newModel(m.kind)
	return true, nil
}

// open links the lane without waiting for the remote to answer.
func (m *manager) open(ctx context.Context) error {
	var env *envelope.Envelope
	if m.kind == kindEvent {
		env = envelope.NewLink(m.node, m.lane, 0, 0, nil)
	} else {
		env = envelope.NewSync(m.node, m.lane, 0, 0, nil)
	}

	err := m.cx.send(ctx, env, false)

	m.lk.Lock()
	defer m.lk.Unlock()
	if err != nil {
		m.model.fail(err)
		return err
	}
	if m.status == managerOpening {
		m.status = managerOpen
		m.cx.msink.IncrCounterWithLabels(MetricWarpManagerOpenCount, 1.0, m.labels)
		m.logger.Debug("lane linked", LabelTag.L(env.Tag))
	}
	return nil
}

// leave detaches view, the caller holds the connection lock. It reports
// whether the manager has no view left and must be dropped.
func (m *manager) leave(view *downlink) bool {
	m.lk.Lock()
	defer m.lk.Unlock()

	delete(m.views, view.id)
	if len(m.views) > 0 || m.status == managerClosed {
		return false
	}

	m.status = managerClosed
	if m.model != nil {
		m.model.fail(fmt.Errorf("%w: %s", ErrDownlinkNotOpen, m.route))
	}
	m.cx.msink.IncrCounterWithLabels(MetricWarpManagerCloseCount, 1.0, m.labels)
	m.logger.Debug("lane released")
	return true
}

// sortedViews gives a deterministic fan-out order: ULIDs sort by creation.
func (m *manager) sortedViews() []*downlink {
	views := make([]*downlink, 0, len(m.views))
	for _, v := range m.views {
		views = append(views, v)
	}
	slices.SortFunc(views, func(a, b *downlink) int {
		return a.id.Compare(b.id)
	})
	return views
}

// replay gives a late view the current state, old values being nil.
func (m *manager) replay(view *downlink) {
	switch m.kind {
	case kindValue:
		if structure.IsDefined(m.model.rawValue) {
			view.notifySet(m.model.value, nil)
		}
	case kindMap:
		m.model.ascend(func(e mapEntry) bool {
			view.notifyUpdate(e.key, e.value, nil)
			return true
		})
	}
}

// fail ends the model, every waiter gets err.
func (m *manager) fail(err error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.model != nil {
		m.model.fail(err)
	}
}

// receive applies env under lock then reports its failure, if any, once
// the lock is released.
func (m *manager) receive(env *envelope.Envelope) {
	if err := m.apply(env); err != nil {
		m.cx.sink.report(err, LabelHost.L(m.cx.host), LabelNode.L(m.node), LabelLane.L(m.lane))
	}
}

func (m *manager) apply(env *envelope.Envelope) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	if m.model == nil {
		return nil
	}

	switch env.Tag {
	case envelope.TagEvent:
		return m.onEvent(env.Body)
	case envelope.TagLinked:
		m.model.didLink()
	case envelope.TagSynced:
		m.model.didSync()
	case envelope.TagUnlinked:
		err := ErrUnlinked
		if body, ok := env.Body.(structure.Record); ok && body.Tag() == laneNotFoundTag {
			err = ErrLaneNotFound
		}
		err = fmt.Errorf("%w: %s", err, m.route)
		m.model.fail(err)
		return err
	default:
		m.logger.Debug("ignoring envelope", LabelTag.L(env.Tag))
	}
	return nil
}

func (m *manager) onEvent(body structure.Value) error {
	if r, ok := body.(structure.Record); ok {
		r.Commit()
	}

	switch m.kind {
	case kindValue:
		value, err := m.converter().FromValue(body)
		if err != nil {
			return fmt.Errorf("%s: %w", m.route, err)
		}
		old := m.model.setValue(value, body)
		for _, view := range m.sortedViews() {
			view.notifySet(value, old)
		}

	case kindMap:
		action, err := envelope.ParseMapBody(body)
		if err != nil {
			return fmt.Errorf("%s: %w", m.route, err)
		}
		key, err := m.converter().FromValue(action.Key)
		if err != nil {
			return fmt.Errorf("%s: %w", m.route, err)
		}
		text := recon.Write(action.Key)

		if action.Kind == envelope.MapRemove {
			old, ok := m.model.remove(text)
			if !ok {
				return nil
			}
			for _, view := range m.sortedViews() {
				view.notifyRemove(key, old.value)
			}
			return nil
		}

		value, err := m.converter().FromValue(action.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", m.route, err)
		}
		old := m.model.put(mapEntry{text: text, key: key, value: value, rawValue: action.Value})
		for _, view := range m.sortedViews() {
			view.notifyUpdate(key, value, old)
		}

	case kindEvent:
		value, err := m.converter().FromValue(body)
		if err != nil {
			return fmt.Errorf("%s: %w", m.route, err)
		}
		for _, view := range m.sortedViews() {
			view.notifyEvent(value)
		}
	}
	return nil
}

// gates returns the channels of the current model under lock.
func (m *manager) gates() (linked, synced, done <-chan struct{}, err error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.model == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrDownlinkNotOpen, m.route)
	}
	return m.model.linkedCh, m.model.syncedCh, m.model.doneCh, nil
}

func (m *manager) modelErr() error {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.model.err
}

func (m *manager) wait(ctx context.Context, synced bool) error {
	linkedCh, syncedCh, doneCh, err := m.gates()
	if err != nil {
		return err
	}
	gate := linkedCh
	if synced {
		gate = syncedCh
	}

	select {
	case <-doneCh:
		return m.modelErr()
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
		return m.modelErr()
	case <-gate:
		return nil
	}
}

// command waits for the lane to be linked then sends body. Without
// blocking, failures go to the exception sink.
func (m *manager) command(ctx context.Context, body structure.Value, blocking bool) error {
	send := func(ctx context.Context) error {
		if err := m.wait(ctx, false); err != nil {
			return err
		}
		return m.cx.send(ctx, envelope.NewCommand(m.node, m.lane, body), true)
	}

	if blocking {
		return send(ctx)
	}

	go func() {
		if err := send(context.WithoutCancel(ctx)); err != nil {
			m.cx.sink.report(err, LabelHost.L(m.cx.host), LabelNode.L(m.node), LabelLane.L(m.lane))
		}
	}()
	return nil
}

func (m *manager) currentValue() any {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.model == nil {
		return nil
	}
	return m.model.value
}

func (m *manager) entry(text string) (any, bool) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.model == nil {
		return nil, false
	}
	e, ok := m.model.get(text)
	return e.value, ok
}

func (m *manager) entries() []Entry {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.model == nil {
		return nil
	}
	out := make([]Entry, 0, m.model.entries.Len())
	m.model.ascend(func(e mapEntry) bool {
		out = append(out, Entry{Key: e.key, Value: e.value})
		return true
	})
	return out
}
