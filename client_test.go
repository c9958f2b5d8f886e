package warp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raskyld/warp/pkg/flow"
	"github.com/raskyld/warp/pkg/structure"
	envelope "github.com/raskyld/warp/pkg/warp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHost = "warp://localhost:9001"
	testNode = "/house"
	testLane = "light"
)

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testHandler() slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	})
}

// fakeHost is a WARP host reached through in-memory connections.
type fakeHost struct {
	dials atomic.Int32
	conns chan *flow.LocalConn
}

func newFakeHost() *fakeHost {
	return &fakeHost{conns: make(chan *flow.LocalConn, 8)}
}

func (h *fakeHost) dialer(_ context.Context, _ *url.URL) (flow.Conn, error) {
	h.dials.Add(1)
	client, server := flow.NewLocalPair(64)
	h.conns <- server
	return client, nil
}

func (h *fakeHost) accept(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-h.conns:
		return &fakeConn{conn: conn}
	case <-time.After(5 * time.Second):
		t.Fatal("no connection was dialed")
		return nil
	}
}

type fakeConn struct {
	conn *flow.LocalConn
}

func (c *fakeConn) expect(t *testing.T) *envelope.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := c.conn.Recv(ctx)
	require.NoError(t, err)
	env, err := envelope.ParseEnvelope(string(frame))
	require.NoError(t, err)
	return env
}

func (c *fakeConn) expectNothing(t *testing.T, within time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	frame, err := c.conn.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "unexpected frame %q", frame)
}

func (c *fakeConn) expectClosed(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, err := c.conn.Recv(ctx)
		if err != nil {
			require.ErrorIs(t, err, flow.ErrConnClosed)
			return
		}
	}
}

func (c *fakeConn) send(t *testing.T, envs ...*envelope.Envelope) {
	t.Helper()
	for _, env := range envs {
		text, err := env.ToRecon()
		require.NoError(t, err)
		require.NoError(t, c.conn.Send(context.Background(), []byte(text)))
	}
}

// recorder collects callback invocations from the dispatcher goroutines.
type recorder struct {
	lk    sync.Mutex
	calls [][]any
}

func (r *recorder) record(args ...any) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.calls = append(r.calls, args)
}

func (r *recorder) get() [][]any {
	r.lk.Lock()
	defer r.lk.Unlock()
	return append([][]any(nil), r.calls...)
}

func (r *recorder) waitFor(t *testing.T, n int) [][]any {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.get()) >= n
	}, 5*time.Second, 10*time.Millisecond)
	return r.get()
}

func newTestClient(t *testing.T, host *fakeHost, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithLog(testHandler()),
		WithMetricSink(nil),
		WithDialer(host.dialer),
		WithCloseTimeout(time.Second),
	}, opts...)
	client, err := Create(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Shutdown() })
	return client
}

func openValue(t *testing.T, client *Client, onSet func(newValue, oldValue any)) *ValueDownlink {
	t.Helper()
	view := client.ValueDownlink()
	require.NoError(t, view.SetHostURI(testHost))
	require.NoError(t, view.SetNodeURI(testNode))
	require.NoError(t, view.SetLaneURI(testLane))
	if onSet != nil {
		require.NoError(t, view.DidSet(onSet))
	}
	require.NoError(t, view.Open(testCtx(t)))
	return view
}

func TestCreate(t *testing.T) {
	_, err := Create(WithDialer(nil))
	require.ErrorIs(t, err, ErrInvalidCfg)
}

func TestValueDownlink(t *testing.T) {
	host := newFakeHost()
	client := newTestClient(t, host)

	first := &recorder{}
	view := openValue(t, client, func(n, o any) { first.record(n, o) })

	server := host.accept(t)
	req := server.expect(t)
	require.Equal(t, envelope.TagSync, req.Tag)
	require.Equal(t, testNode, req.NodeURI)
	require.Equal(t, testLane, req.LaneURI)

	server.send(t,
		envelope.NewLinked(testNode, testLane, 0, 0, nil),
		envelope.NewEvent(testNode, testLane, structure.NewInt(42)),
		envelope.NewSynced(testNode, testLane, nil),
	)

	t.Run("get waits for the lane to be synced", func(t *testing.T) {
		value, err := view.Get(testCtx(t), true)
		require.NoError(t, err)
		require.Equal(t, int64(42), value)
		require.Equal(t, [][]any{{int64(42), nil}}, first.waitFor(t, 1))
	})

	t.Run("views of the same lane share the connection and the link", func(t *testing.T) {
		late := &recorder{}
		second := openValue(t, client, func(n, o any) { late.record(n, o) })

		require.Equal(t, int32(1), host.dials.Load())
		require.Equal(t, 1, client.pool.size())
		server.expectNothing(t, 50*time.Millisecond)

		require.Equal(t, [][]any{{int64(42), nil}}, late.waitFor(t, 1))

		server.send(t, envelope.NewEvent(testNode, testLane, structure.NewText("on")))
		require.Equal(t, []any{"on", int64(42)}, first.waitFor(t, 2)[1])
		require.Equal(t, []any{"on", int64(42)}, late.waitFor(t, 2)[1])

		require.NoError(t, second.Close())
		server.expectNothing(t, 50*time.Millisecond)
	})

	t.Run("set sends a command", func(t *testing.T) {
		require.NoError(t, view.Set(testCtx(t), "off", true))
		cmd := server.expect(t)
		require.Equal(t, envelope.TagCommand, cmd.Tag)
		require.True(t, structure.Equal(structure.NewText("off"), cmd.Body))
	})

	t.Run("closing the last view closes the connection", func(t *testing.T) {
		require.NoError(t, view.Close())
		server.expectClosed(t)
		require.Equal(t, 0, client.pool.size())

		_, err := view.Get(testCtx(t), false)
		require.ErrorIs(t, err, ErrDownlinkNotOpen)
	})
}

func TestCommandWaitsForLinked(t *testing.T) {
	host := newFakeHost()
	client := newTestClient(t, host)

	view := openValue(t, client, nil)
	server := host.accept(t)
	require.Equal(t, envelope.TagSync, server.expect(t).Tag)

	ctx := testCtx(t)
	errCh := make(chan error, 1)
	go func() {
		errCh <- view.Set(ctx, int64(7), true)
	}()

	clientCmd := make(chan error, 1)
	go func() {
		clientCmd <- client.Command(ctx, testHost, testNode, testLane, "toggle")
	}()

	server.expectNothing(t, 100*time.Millisecond)
	server.send(t, envelope.NewLinked(testNode, testLane, 0, 0, nil))

	bodies := []structure.Value{server.expect(t).Body, server.expect(t).Body}
	require.NoError(t, <-errCh)
	require.NoError(t, <-clientCmd)

	assert.True(t,
		structure.Equal(bodies[0], structure.NewInt(7)) || structure.Equal(bodies[1], structure.NewInt(7)),
	)
	assert.True(t,
		structure.Equal(bodies[0], structure.NewText("toggle")) || structure.Equal(bodies[1], structure.NewText("toggle")),
	)
}

func TestClientCommand(t *testing.T) {
	host := newFakeHost()
	client := newTestClient(t, host)

	t.Run("a command without view uses a transient connection", func(t *testing.T) {
		require.NoError(t, client.Command(testCtx(t), testHost, testNode, testLane, map[string]int{"level": 3}))

		server := host.accept(t)
		cmd := server.expect(t)
		require.Equal(t, envelope.TagCommand, cmd.Tag)
		expected := structure.NewRecordMap(structure.NewSlot(structure.NewText("level"), structure.NewInt(3)))
		require.True(t, structure.Equal(expected, cmd.Body))

		server.expectClosed(t)
		require.Equal(t, 0, client.pool.size())
	})

	t.Run("addresses are validated", func(t *testing.T) {
		require.ErrorIs(t, client.Command(testCtx(t), "", testNode, testLane, nil), ErrMissingAddress)
		require.ErrorIs(t, client.Command(testCtx(t), "http://localhost", testNode, testLane, nil), ErrInvalidScheme)
	})

	t.Run("a shut down client refuses commands", func(t *testing.T) {
		require.NoError(t, client.Shutdown())
		require.ErrorIs(t, client.Command(testCtx(t), testHost, testNode, testLane, nil), ErrClientClosed)
	})
}

func TestMapDownlink(t *testing.T) {
	host := newFakeHost()
	client := newTestClient(t, host)

	updates := &recorder{}
	removes := &recorder{}
	view := client.MapDownlink()
	require.NoError(t, view.SetHostURI(testHost))
	require.NoError(t, view.SetNodeURI(testNode))
	require.NoError(t, view.SetLaneURI("rooms"))
	require.NoError(t, view.DidUpdate(func(k, n, o any) { updates.record(k, n, o) }))
	require.NoError(t, view.DidRemove(func(k, o any) { removes.record(k, o) }))
	require.NoError(t, view.Open(testCtx(t)))

	server := host.accept(t)
	require.Equal(t, envelope.TagSync, server.expect(t).Tag)

	event := func(body structure.Value) *envelope.Envelope {
		return envelope.NewEvent(testNode, "rooms", body)
	}
	server.send(t,
		envelope.NewLinked(testNode, "rooms", 0, 0, nil),
		event(envelope.UpdateBody(structure.NewText("kitchen"), structure.NewInt(2))),
		event(envelope.UpdateBody(structure.NewText("bedroom"), structure.NewInt(1))),
		event(envelope.UpdateBody(structure.NewText("attic"), structure.NewInt(5))),
		event(envelope.UpdateBody(structure.NewText("kitchen"), structure.NewInt(3))),
		event(envelope.RemoveBody(structure.NewText("attic"))),
		event(envelope.RemoveBody(structure.NewText("cellar"))),
		envelope.NewSynced(testNode, "rooms", nil),
	)

	t.Run("entries are ordered by key", func(t *testing.T) {
		entries, err := view.GetAll(testCtx(t), true)
		require.NoError(t, err)
		require.Equal(t, []Entry{
			{Key: "bedroom", Value: int64(1)},
			{Key: "kitchen", Value: int64(3)},
		}, entries)

		value, err := view.Get(testCtx(t), "kitchen", false)
		require.NoError(t, err)
		require.Equal(t, int64(3), value)

		value, err = view.Get(testCtx(t), "attic", false)
		require.NoError(t, err)
		require.Nil(t, value)
	})

	t.Run("callbacks see every change in order", func(t *testing.T) {
		require.Equal(t, [][]any{
			{"kitchen", int64(2), nil},
			{"bedroom", int64(1), nil},
			{"attic", int64(5), nil},
			{"kitchen", int64(3), int64(2)},
		}, updates.waitFor(t, 4))
		require.Equal(t, [][]any{{"attic", int64(5)}}, removes.waitFor(t, 1))
	})

	t.Run("a late view is replayed in key order", func(t *testing.T) {
		replayed := &recorder{}
		late := client.MapDownlink()
		require.NoError(t, late.SetHostURI(testHost))
		require.NoError(t, late.SetNodeURI(testNode))
		require.NoError(t, late.SetLaneURI("rooms"))
		require.NoError(t, late.DidUpdate(func(k, n, o any) { replayed.record(k, n, o) }))
		require.NoError(t, late.Open(testCtx(t)))

		require.Equal(t, [][]any{
			{"bedroom", int64(1), nil},
			{"kitchen", int64(3), nil},
		}, replayed.waitFor(t, 2))
	})

	t.Run("put and remove send map commands", func(t *testing.T) {
		require.NoError(t, view.Put(testCtx(t), "garage", true, true))
		action, err := envelope.ParseMapBody(server.expect(t).Body)
		require.NoError(t, err)
		require.Equal(t, envelope.MapUpdate, action.Kind)
		require.True(t, structure.Equal(structure.NewText("garage"), action.Key))
		require.True(t, structure.Equal(structure.NewBool(true), action.Value))

		require.NoError(t, view.Remove(testCtx(t), "garage", true))
		action, err = envelope.ParseMapBody(server.expect(t).Body)
		require.NoError(t, err)
		require.Equal(t, envelope.MapRemove, action.Kind)
	})

	t.Run("a lane cannot be linked by two kinds of views", func(t *testing.T) {
		other := client.ValueDownlink()
		require.NoError(t, other.SetHostURI(testHost))
		require.NoError(t, other.SetNodeURI(testNode))
		require.NoError(t, other.SetLaneURI("rooms"))
		require.ErrorIs(t, other.Open(testCtx(t)), ErrDownlinkKind)
		require.False(t, other.IsOpen())
	})
}

type Switch struct {
	On    bool   `recon:"on"`
	Label string `recon:"label"`
}

func TestEventDownlink(t *testing.T) {
	host := newFakeHost()
	client := newTestClient(t, host)

	events := &recorder{}
	view := client.EventDownlink()
	require.NoError(t, view.SetHostURI(testHost))
	require.NoError(t, view.SetNodeURI(testNode))
	require.NoError(t, view.SetLaneURI("switch"))
	require.NoError(t, view.SetStrict(true))
	require.NoError(t, view.RegisterClass(Switch{}))
	require.NoError(t, view.OnEvent(func(e any) { events.record(e) }))
	require.NoError(t, view.Open(testCtx(t)))

	server := host.accept(t)
	require.Equal(t, envelope.TagLink, server.expect(t).Tag)

	sw, err := structure.Converter{}.ToValue(Switch{On: true, Label: "hall"})
	require.NoError(t, err)
	unknown := structure.NewRecordMap(structure.NewAttr("Dimmer", nil), structure.NewInt(3))

	server.send(t,
		envelope.NewLinked(testNode, "switch", 0, 0, nil),
		envelope.NewEvent(testNode, "switch", sw),
		envelope.NewEvent(testNode, "switch", unknown),
		envelope.NewEvent(testNode, "switch", structure.NewText("reset")),
	)

	calls := events.waitFor(t, 2)
	require.Equal(t, []any{&Switch{On: true, Label: "hall"}}, calls[0])
	require.Equal(t, []any{"reset"}, calls[1])
}

func TestSharedLaneSettings(t *testing.T) {
	host := newFakeHost()
	reported := make(chan error, 4)
	client := newTestClient(t, host, WithErrorHandler(func(err error) { reported <- err }))

	openSwitch := func(configure func(view *EventDownlink)) *recorder {
		events := &recorder{}
		view := client.EventDownlink()
		require.NoError(t, view.SetHostURI(testHost))
		require.NoError(t, view.SetNodeURI(testNode))
		require.NoError(t, view.SetLaneURI("switch"))
		require.NoError(t, view.OnEvent(func(e any) { events.record(e) }))
		configure(view)
		require.NoError(t, view.Open(testCtx(t)))
		return events
	}

	first := openSwitch(func(view *EventDownlink) {
		require.NoError(t, view.RegisterClass(Switch{}))
	})
	server := host.accept(t)
	require.Equal(t, envelope.TagLink, server.expect(t).Tag)

	second := openSwitch(func(view *EventDownlink) {
		require.NoError(t, view.DeregisterClass("Switch"))
	})
	server.expectNothing(t, 50*time.Millisecond)

	t.Run("a deregistration applies to every view of the lane", func(t *testing.T) {
		sw, err := structure.Converter{}.ToValue(Switch{On: true, Label: "hall"})
		require.NoError(t, err)
		server.send(t,
			envelope.NewLinked(testNode, "switch", 0, 0, nil),
			envelope.NewEvent(testNode, "switch", sw),
		)

		want := &structure.Object{
			Class:  "Switch",
			Fields: map[string]any{"on": true, "label": "hall"},
		}
		require.Equal(t, []any{want}, first.waitFor(t, 1)[0])
		require.Equal(t, []any{want}, second.waitFor(t, 1)[0])
	})

	t.Run("the last strict setting applies to every view of the lane", func(t *testing.T) {
		openSwitch(func(view *EventDownlink) {
			require.NoError(t, view.SetStrict(true))
		})

		server.send(t,
			envelope.NewEvent(testNode, "switch",
				structure.NewRecordMap(structure.NewAttr("Dimmer", nil), structure.NewInt(3))),
			envelope.NewEvent(testNode, "switch", structure.NewText("reset")),
		)

		select {
		case err := <-reported:
			require.ErrorIs(t, err, structure.ErrUnknownClass)
		case <-time.After(5 * time.Second):
			t.Fatal("unknown class was not reported")
		}

		calls := first.waitFor(t, 2)
		require.Len(t, calls, 2)
		require.Equal(t, []any{"reset"}, calls[1])
	})
}

func TestDownlinkPreconditions(t *testing.T) {
	host := newFakeHost()
	client := newTestClient(t, host)

	view := client.ValueDownlink()
	_, err := view.Get(testCtx(t), false)
	require.ErrorIs(t, err, ErrDownlinkNotOpen)
	require.ErrorIs(t, view.Set(testCtx(t), 1, false), ErrDownlinkNotOpen)
	require.ErrorIs(t, view.Open(testCtx(t)), ErrMissingAddress)
	require.NoError(t, view.Close())

	view = openValue(t, client, nil)
	require.ErrorIs(t, view.Open(testCtx(t)), ErrDownlinkOpen)
	require.ErrorIs(t, view.SetNodeURI("/other"), ErrDownlinkOpen)
	require.ErrorIs(t, view.DidSet(func(_, _ any) {}), ErrDownlinkOpen)
	require.ErrorIs(t, view.RegisterClass(Switch{}), ErrDownlinkOpen)
	require.ErrorIs(t, view.DeregisterClass("Switch"), ErrDownlinkOpen)
}

func TestDialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	client, err := Create(
		WithLog(testHandler()),
		WithMetricSink(nil),
		WithDialer(func(context.Context, *url.URL) (flow.Conn, error) {
			return nil, dialErr
		}),
	)
	require.NoError(t, err)
	defer client.Shutdown()

	view := client.ValueDownlink()
	require.NoError(t, view.SetHostURI(testHost))
	require.NoError(t, view.SetNodeURI(testNode))
	require.NoError(t, view.SetLaneURI(testLane))

	err = view.Open(testCtx(t))
	require.ErrorIs(t, err, ErrDial)
	require.ErrorIs(t, err, dialErr)
	require.False(t, view.IsOpen())
	require.Equal(t, 0, client.pool.size())
}

func TestLaneNotFound(t *testing.T) {
	host := newFakeHost()
	reported := make(chan error, 4)
	exits := make(chan int, 4)
	client := newTestClient(t, host,
		WithErrorHandler(func(err error) { reported <- err }),
		WithTerminateOnError(func(code int) { exits <- code }),
	)

	view := openValue(t, client, nil)
	server := host.accept(t)
	require.Equal(t, envelope.TagSync, server.expect(t).Tag)

	server.send(t, envelope.NewUnlinked(testNode, testLane, 0, 0,
		structure.NewRecordMap(structure.NewAttr("laneNotFound", nil)),
	))

	select {
	case err := <-reported:
		require.ErrorIs(t, err, ErrLaneNotFound)
	case <-time.After(5 * time.Second):
		t.Fatal("unlinked was not reported")
	}
	require.Equal(t, 1, <-exits)

	_, err := view.Get(testCtx(t), true)
	require.ErrorIs(t, err, ErrLaneNotFound)
	require.ErrorIs(t, view.Set(testCtx(t), 1, true), ErrLaneNotFound)
}

func TestHandlerClosesView(t *testing.T) {
	host := newFakeHost()
	closed := make(chan error, 1)
	var view *ValueDownlink
	client := newTestClient(t, host, WithErrorHandler(func(err error) {
		if errors.Is(err, ErrLaneNotFound) {
			closed <- view.Close()
		}
	}))

	view = openValue(t, client, nil)
	server := host.accept(t)
	require.Equal(t, envelope.TagSync, server.expect(t).Tag)

	server.send(t, envelope.NewUnlinked(testNode, testLane, 0, 0,
		structure.NewRecordMap(structure.NewAttr("laneNotFound", nil)),
	))

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("the handler could not close the view")
	}

	server.expectClosed(t)
	require.False(t, view.IsOpen())
	require.Equal(t, 0, client.pool.size())
	require.NoError(t, client.Shutdown())
}

func TestRemoteClose(t *testing.T) {
	host := newFakeHost()
	reported := make(chan error, 4)
	client := newTestClient(t, host, WithErrorHandler(func(err error) { reported <- err }))

	view := openValue(t, client, nil)
	server := host.accept(t)
	require.Equal(t, envelope.TagSync, server.expect(t).Tag)
	require.NoError(t, server.conn.Close())

	select {
	case err := <-reported:
		var closed *ClosedError
		require.ErrorAs(t, err, &closed)
		require.Equal(t, ClosedByRemote, closed.Cause)
		require.ErrorIs(t, err, flow.ErrConnClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("lost connection was not reported")
	}

	_, err := view.Get(testCtx(t), true)
	var closed *ClosedError
	require.ErrorAs(t, err, &closed)
	require.Equal(t, 0, client.pool.size())

	t.Run("the next view dials again", func(t *testing.T) {
		require.NoError(t, view.Close())
		openValue(t, client, nil)
		host.accept(t)
		require.Equal(t, int32(2), host.dials.Load())
	})
}

func TestShutdown(t *testing.T) {
	host := newFakeHost()
	client := newTestClient(t, host)

	view := openValue(t, client, nil)
	server := host.accept(t)
	require.Equal(t, envelope.TagSync, server.expect(t).Tag)

	m, err := view.openManager()
	require.NoError(t, err)

	require.NoError(t, client.Shutdown())
	server.expectClosed(t)

	err = m.wait(testCtx(t), true)
	var closed *ClosedError
	require.ErrorAs(t, err, &closed)
	require.Equal(t, ClosedByShutdown, closed.Cause)
	require.False(t, view.IsOpen())

	other := client.ValueDownlink()
	require.NoError(t, other.SetHostURI(testHost))
	require.NoError(t, other.SetNodeURI(testNode))
	require.NoError(t, other.SetLaneURI(testLane))
	require.ErrorIs(t, other.Open(testCtx(t)), ErrClientClosed)
}

// TestWebSocket runs a client against a minimal WARP host serving one value
// lane over a real WebSocket.
func TestWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		conn := flow.NewWebSocketConn(ws)
		defer conn.Close()

		ctx := context.Background()
		reply := func(env *envelope.Envelope) error {
			text, err := env.ToRecon()
			if err != nil {
				return err
			}
			return conn.Send(ctx, []byte(text))
		}

		var state structure.Value = structure.NewText("on")
		for {
			frame, err := conn.Recv(ctx)
			if err != nil {
				return
			}
			env, err := envelope.ParseEnvelope(string(frame))
			if !assert.NoError(t, err) {
				return
			}

			var replies []*envelope.Envelope
			switch env.Tag {
			case envelope.TagSync:
				replies = append(replies,
					envelope.NewLinked(env.NodeURI, env.LaneURI, 0, 0, nil),
					envelope.NewEvent(env.NodeURI, env.LaneURI, state),
					envelope.NewSynced(env.NodeURI, env.LaneURI, nil),
				)
			case envelope.TagCommand:
				state = env.Body
				replies = append(replies, envelope.NewEvent(env.NodeURI, env.LaneURI, state))
			}
			for _, r := range replies {
				if err := reply(r); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	client, err := Create(WithLog(testHandler()), WithMetricSink(nil))
	require.NoError(t, err)
	defer client.Shutdown()

	seen := &recorder{}
	view := client.ValueDownlink()
	require.NoError(t, view.SetHostURI("warp"+strings.TrimPrefix(srv.URL, "http")))
	require.NoError(t, view.SetNodeURI(testNode))
	require.NoError(t, view.SetLaneURI(testLane))
	require.NoError(t, view.DidSet(func(n, o any) { seen.record(n, o) }))
	require.NoError(t, view.Open(testCtx(t)))

	value, err := view.Get(testCtx(t), true)
	require.NoError(t, err)
	require.Equal(t, "on", value)

	require.NoError(t, view.Set(testCtx(t), "off", false))
	require.Equal(t, []any{"off", "on"}, seen.waitFor(t, 2)[1])

	require.NoError(t, view.Close())
}
