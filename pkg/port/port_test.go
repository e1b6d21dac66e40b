package port

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/courier/pkg/registry"
	"github.com/entrhq/courier/pkg/runtime"
	"github.com/entrhq/courier/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	background = types.BackgroundID()
	popup      = types.PopupID("p1")
)

func setup(t *testing.T, opts ...Option) (*runtime.Runtime, *Hub) {
	t.Helper()
	rt := runtime.New(registry.New())
	hub := NewHub(rt, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, rt.Shutdown(ctx))
	})

	for _, id := range []types.ContextID{background, popup} {
		_, err := rt.Spawn(id)
		require.NoError(t, err)
	}
	return rt, hub
}

func ack(text string) types.Envelope {
	return types.NewEnvelope(types.ContextPopup, types.Ack{Text: text})
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

// listenAndCollect accepts connections on background and forwards every
// received text.
func listenAndCollect(t *testing.T, hub *Hub) (<-chan *Port, <-chan string) {
	t.Helper()
	accepted := make(chan *Port, 8)
	texts := make(chan string, 32)
	require.NoError(t, hub.Listen(background, func(p *Port) {
		p.OnMessage(func(_ *Port, env types.Envelope) {
			if a, ok := env.Payload.(types.Ack); ok {
				texts <- a.Text
			}
		})
		accepted <- p
	}))
	return accepted, texts
}

func TestPort_PreservesOrder(t *testing.T) {
	_, hub := setup(t)
	accepted, texts := listenAndCollect(t, hub)

	p, err := hub.Connect(context.Background(), popup, background, "popup")
	require.NoError(t, err)
	require.NoError(t, p.Send(ack("m1")))
	require.NoError(t, p.Send(ack("m2")))
	require.NoError(t, p.Send(ack("m3")))

	remote := receive(t, accepted)
	assert.Equal(t, p.ID(), remote.ID())
	assert.Equal(t, "popup", remote.Name())
	assert.Equal(t, background, remote.Local())
	assert.Equal(t, popup, remote.Peer())

	got := []string{receive(t, texts), receive(t, texts), receive(t, texts)}
	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
}

func TestPort_Bidirectional(t *testing.T) {
	_, hub := setup(t)
	require.NoError(t, hub.Listen(background, func(p *Port) {
		p.OnMessage(func(p *Port, env types.Envelope) {
			_ = p.Send(types.NewEnvelope(types.ContextBackground, types.Ack{Text: "pong"}))
		})
	}))

	replies := make(chan string, 1)
	p, err := hub.Connect(context.Background(), popup, background, "ping")
	require.NoError(t, err)
	p.OnMessage(func(_ *Port, env types.Envelope) {
		replies <- env.Payload.(types.Ack).Text
	})
	require.NoError(t, p.Send(ack("ping")))
	assert.Equal(t, "pong", receive(t, replies))
}

func TestPort_AllHandlersFireInOrder(t *testing.T) {
	_, hub := setup(t)
	calls := make(chan string, 4)
	require.NoError(t, hub.Listen(background, func(p *Port) {
		p.OnMessage(func(*Port, types.Envelope) { calls <- "first" })
		p.OnMessage(func(*Port, types.Envelope) { calls <- "second" })
	}))

	p, err := hub.Connect(context.Background(), popup, background, "multi")
	require.NoError(t, err)
	require.NoError(t, p.Send(ack("x")))
	assert.Equal(t, "first", receive(t, calls))
	assert.Equal(t, "second", receive(t, calls))
}

func TestPort_BuffersUntilHandler(t *testing.T) {
	rt, hub := setup(t)
	accepted := make(chan *Port, 1)
	require.NoError(t, hub.Listen(background, func(p *Port) { accepted <- p }))

	p, err := hub.Connect(context.Background(), popup, background, "late")
	require.NoError(t, err)
	require.NoError(t, p.Send(ack("early-1")))
	require.NoError(t, p.Send(ack("early-2")))
	remote := receive(t, accepted)

	// Make sure both deliveries ran before the handler is added.
	bg, ok := rt.Lookup(background)
	require.True(t, ok)
	require.NoError(t, bg.Call(context.Background(), func() {}))

	texts := make(chan string, 4)
	remote.OnMessage(func(_ *Port, env types.Envelope) {
		texts <- env.Payload.(types.Ack).Text
	})
	require.NoError(t, p.Send(ack("after")))
	assert.Equal(t, "early-1", receive(t, texts))
	assert.Equal(t, "early-2", receive(t, texts))
	assert.Equal(t, "after", receive(t, texts))
}

func TestPort_ConnectRefused(t *testing.T) {
	rt, hub := setup(t)

	_, err := hub.Connect(context.Background(), popup, background, "nobody-listens")
	assert.ErrorIs(t, err, types.ErrConnectionRefused)

	_, err = hub.Connect(context.Background(), popup, types.ContentScriptID(9), "missing")
	assert.ErrorIs(t, err, types.ErrConnectionRefused)

	_, err = hub.Connect(context.Background(), types.PopupID("gone"), background, "x")
	assert.ErrorIs(t, err, types.ErrContextNotRunning)

	_, err = hub.Connect(context.Background(), background, background, "self")
	assert.ErrorIs(t, err, types.ErrConnectionRefused)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = hub.Connect(ctx, popup, background, "canceled")
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, hub.Listen(background, func(*Port) {}))
	require.NoError(t, rt.Terminate(background))
	_, err = hub.Connect(context.Background(), popup, background, "terminated")
	assert.ErrorIs(t, err, types.ErrConnectionRefused)
}

func TestPort_ListenTwice(t *testing.T) {
	_, hub := setup(t)
	require.NoError(t, hub.Listen(background, func(*Port) {}))
	assert.ErrorIs(t, hub.Listen(background, func(*Port) {}), types.ErrDuplicateHandler)
	assert.ErrorIs(t, hub.Listen(types.ContentScriptID(1), func(*Port) {}), types.ErrContextNotRunning)
}

func TestPort_CloseNotifiesPeerOnce(t *testing.T) {
	_, hub := setup(t)
	var mu sync.Mutex
	disconnects := 0
	notified := make(chan struct{}, 4)
	accepted := make(chan *Port, 1)
	require.NoError(t, hub.Listen(background, func(p *Port) {
		p.OnDisconnect(func(*Port) {
			mu.Lock()
			disconnects++
			mu.Unlock()
			notified <- struct{}{}
		})
		accepted <- p
	}))

	p, err := hub.Connect(context.Background(), popup, background, "popup")
	require.NoError(t, err)
	localNotified := make(chan struct{}, 1)
	p.OnDisconnect(func(*Port) { localNotified <- struct{}{} })
	remote := receive(t, accepted)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.NoError(t, remote.Close())
	receive(t, notified)

	assert.True(t, p.Closed())
	assert.True(t, remote.Closed())
	assert.ErrorIs(t, p.Send(ack("late")), types.ErrPortClosed)
	assert.ErrorIs(t, remote.Send(ack("late")), types.ErrPortClosed)
	assert.Empty(t, hub.Ports(popup))
	assert.Empty(t, hub.Ports(background))

	// A handler added after the fact still hears about it, once.
	again := make(chan struct{}, 1)
	remote.OnDisconnect(func(*Port) { again <- struct{}{} })
	receive(t, again)

	mu.Lock()
	assert.Equal(t, 1, disconnects)
	mu.Unlock()
	select {
	case <-localNotified:
		t.Error("the closing side must not be notified")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPort_MessagesBeforeCloseStillArrive(t *testing.T) {
	_, hub := setup(t)
	events := make(chan string, 4)
	require.NoError(t, hub.Listen(background, func(p *Port) {
		p.OnMessage(func(_ *Port, env types.Envelope) { events <- env.Payload.(types.Ack).Text })
		p.OnDisconnect(func(*Port) { events <- "disconnect" })
	}))

	p, err := hub.Connect(context.Background(), popup, background, "popup")
	require.NoError(t, err)
	require.NoError(t, p.Send(ack("bye")))
	require.NoError(t, p.Close())

	assert.Equal(t, "bye", receive(t, events))
	assert.Equal(t, "disconnect", receive(t, events))
}

func TestPort_TerminationClosesPorts(t *testing.T) {
	rt, hub := setup(t)
	notified := make(chan *Port, 1)
	require.NoError(t, hub.Listen(background, func(p *Port) {
		p.OnDisconnect(func(p *Port) { notified <- p })
	}))

	p, err := hub.Connect(context.Background(), popup, background, "popup")
	require.NoError(t, err)
	require.Len(t, hub.Ports(popup), 1)

	require.NoError(t, rt.Terminate(popup))
	got := receive(t, notified)
	assert.Equal(t, p.ID(), got.ID())
	assert.Equal(t, popup, got.Peer())
	assert.True(t, p.Closed())
	assert.Empty(t, hub.Ports(background))
}

func TestPort_ReusedNameGetsFreshID(t *testing.T) {
	_, hub := setup(t)
	require.NoError(t, hub.Listen(background, func(*Port) {}))

	first, err := hub.Connect(context.Background(), popup, background, "popup")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := hub.Connect(context.Background(), popup, background, "popup")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.False(t, second.Closed())
	assert.True(t, first.Closed())
}

func TestPort_MaxPerContext(t *testing.T) {
	_, hub := setup(t, WithMaxPerContext(1))
	require.NoError(t, hub.Listen(background, func(*Port) {}))

	first, err := hub.Connect(context.Background(), popup, background, "a")
	require.NoError(t, err)
	_, err = hub.Connect(context.Background(), popup, background, "b")
	assert.ErrorIs(t, err, types.ErrConnectionRefused)
	assert.ErrorContains(t, err, "maximum of 1 ports")

	require.NoError(t, first.Close())
	_, err = hub.Connect(context.Background(), popup, background, "b")
	assert.NoError(t, err)
}

func TestPort_RejectsInvalidEnvelope(t *testing.T) {
	_, hub := setup(t)
	require.NoError(t, hub.Listen(background, func(*Port) {}))
	p, err := hub.Connect(context.Background(), popup, background, "popup")
	require.NoError(t, err)

	err = p.Send(types.Envelope{From: types.ContextPopup, Subject: types.SubjectAck})
	assert.ErrorIs(t, err, types.ErrInvalidEnvelope)
}

func TestPort_Events(t *testing.T) {
	var mu sync.Mutex
	var seen []types.TransportEventType
	_, hub := setup(t, WithEmitter(func(ev *types.TransportEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type)
	}))
	done := make(chan struct{}, 1)
	require.NoError(t, hub.Listen(background, func(p *Port) {
		p.OnMessage(func(*Port, types.Envelope) {})
		p.OnDisconnect(func(*Port) { done <- struct{}{} })
	}))

	p, err := hub.Connect(context.Background(), popup, background, "popup")
	require.NoError(t, err)
	require.NoError(t, p.Send(ack("hi")))
	require.NoError(t, p.Close())
	receive(t, done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.TransportEventType{
		types.EventTypePortConnected,
		types.EventTypePortMessage,
		types.EventTypePortDisconnected,
	}, seen)
}
