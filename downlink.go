package warp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/raskyld/warp/pkg/structure"
)

// downlink holds what every kind of view shares: its address, its classes
// and its callbacks. It is configured before `Open` and frozen after.
type downlink struct {
	client *Client
	kind   downlinkKind
	id     ulid.ULID
	logger *slog.Logger

	lk           sync.Mutex
	hostURI      string
	nodeURI      string
	laneURI      string
	strict       bool
	registry     *structure.Registry
	deregistered []string
	opened       bool
	cx           *connection
	manager      *manager
	dispatch     *dispatcher

	didSet    func(newValue, oldValue any)
	didUpdate func(key, newValue, oldValue any)
	didRemove func(key, oldValue any)
	onEvent   func(event any)
}

func newDownlink(c *Client, kind downlinkKind) *downlink {
	id := ulid.Make()
	return &downlink{
		client:   c,
		kind:     kind,
		id:       id,
		logger:   c.logger.With(LabelView.L(id.String()), LabelKind.L(kind.String())),
		registry: structure.NewRegistry(),
	}
}

// ID identifies the view in logs.
func (d *downlink) ID() string {
	return d.id.String()
}

// configure runs fn unless the view is already open.
func (d *downlink) configure(fn func()) error {
	d.lk.Lock()
	defer d.lk.Unlock()
	if d.opened {
		return ErrDownlinkOpen
	}
	fn()
	return nil
}

func (d *downlink) SetHostURI(uri string) error {
	return d.configure(func() { d.hostURI = uri })
}

func (d *downlink) SetNodeURI(uri string) error {
	return d.configure(func() { d.nodeURI = uri })
}

func (d *downlink) SetLaneURI(uri string) error {
	return d.configure(func() { d.laneURI = uri })
}

// SetStrict makes decoding fail on classes that were not registered
// instead of producing `*structure.Object` placeholders.
func (d *downlink) SetStrict(strict bool) error {
	return d.configure(func() { d.strict = strict })
}

// RegisterClass makes records tagged with the type name of proto decode
// into that type.
func (d *downlink) RegisterClass(proto any) error {
	var err error
	if cerr := d.configure(func() { err = d.registry.Register(proto) }); cerr != nil {
		return cerr
	}
	return err
}

// RegisterClassAs is `RegisterClass` under an explicit tag.
func (d *downlink) RegisterClassAs(name string, proto any) error {
	var err error
	if cerr := d.configure(func() { err = d.registry.RegisterAs(name, proto) }); cerr != nil {
		return cerr
	}
	return err
}

// DeregisterClass also removes name from the classes other views of the
// same lane registered.
func (d *downlink) DeregisterClass(name string) error {
	return d.configure(func() {
		d.registry.Deregister(name)
		d.deregistered = append(d.deregistered, name)
	})
}

func (d *downlink) IsOpen() bool {
	d.lk.Lock()
	defer d.lk.Unlock()
	return d.opened
}

// Open connects to the host if needed and links the lane. It returns once
// the link request is sent, use the `wait` variants of the accessors to
// wait for the remote state.
func (d *downlink) Open(ctx context.Context) error {
	d.lk.Lock()
	defer d.lk.Unlock()

	if d.opened {
		return ErrDownlinkOpen
	}
	if d.hostURI == "" || d.nodeURI == "" || d.laneURI == "" {
		return ErrMissingAddress
	}

	host, err := NormalizeHostURI(d.hostURI)
	if err != nil {
		return err
	}

	cx, err := d.client.pool.subscribe(ctx, host)
	if err != nil {
		return err
	}

	d.dispatch = newDispatcher()
	if _, err := cx.attach(ctx, d); err != nil {
		d.dispatch.stop()
		d.client.pool.unsubscribe(cx)
		return err
	}

	d.cx = cx
	d.opened = true
	d.client.track(d)
	d.logger.Debug("downlink opened", LabelNode.L(d.nodeURI), LabelLane.L(d.laneURI))
	return nil
}

// Close unlinks the view. The lane is unlinked and the connection closed
// once no other view uses them. Callbacks already queued still run.
func (d *downlink) Close() error {
	d.lk.Lock()
	if !d.opened {
		d.lk.Unlock()
		return nil
	}
	d.opened = false
	cx := d.cx
	d.cx = nil
	d.lk.Unlock()

	d.client.untrack(d)
	cx.detach(d)
	d.dispatch.stop()
	d.client.pool.unsubscribe(cx)
	d.logger.Debug("downlink closed")
	return nil
}

// openManager returns the manager of an open view.
func (d *downlink) openManager() (*manager, error) {
	d.lk.Lock()
	defer d.lk.Unlock()
	if !d.opened {
		return nil, ErrDownlinkNotOpen
	}
	return d.manager, nil
}

func (d *downlink) converter() structure.Converter {
	d.lk.Lock()
	defer d.lk.Unlock()
	return structure.Converter{Registry: d.registry, Strict: d.strict}
}

func (d *downlink) toValue(obj any) (structure.Value, error) {
	v, err := d.converter().ToValue(obj)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", d.nodeURI, d.laneURI, err)
	}
	return v, nil
}

func (d *downlink) notifySet(newValue, oldValue any) {
	if d.didSet == nil {
		return
	}
	d.dispatch.enqueue(func() { d.didSet(newValue, oldValue) })
}

func (d *downlink) notifyUpdate(key, newValue, oldValue any) {
	if d.didUpdate == nil {
		return
	}
	d.dispatch.enqueue(func() { d.didUpdate(key, newValue, oldValue) })
}

func (d *downlink) notifyRemove(key, oldValue any) {
	if d.didRemove == nil {
		return
	}
	d.dispatch.enqueue(func() { d.didRemove(key, oldValue) })
}

func (d *downlink) notifyEvent(event any) {
	if d.onEvent == nil {
		return
	}
	d.dispatch.enqueue(func() { d.onEvent(event) })
}
