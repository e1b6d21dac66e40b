package port

import (
	"fmt"
	"sync"

	"github.com/entrhq/courier/pkg/runtime"
	"github.com/entrhq/courier/pkg/types"
)

// MessageHandler receives envelopes arriving on a port.
type MessageHandler func(p *Port, env types.Envelope)

// DisconnectHandler is notified when the other side of a port went away.
type DisconnectHandler func(p *Port)

// Port is one endpoint of a bidirectional channel between two contexts.
// Both endpoints share an ID. Handlers run on the event loop of the context
// that owns the endpoint.
type Port struct {
	id    string
	name  string
	local types.ContextID
	peer  types.ContextID

	hub   *Hub
	owner *runtime.Context
	other *Port

	mu           sync.Mutex
	closed       bool
	disconnected bool
	onMessage    []MessageHandler
	onDisconnect []DisconnectHandler
	// inbox holds envelopes that arrived before any message handler was set.
	inbox []types.Envelope
}

// ID returns the port ID shared by both endpoints.
func (p *Port) ID() string { return p.id }

// Name returns the name given to Connect.
func (p *Port) Name() string { return p.name }

// Local returns the context owning this endpoint.
func (p *Port) Local() types.ContextID { return p.local }

// Peer returns the context on the other side.
func (p *Port) Peer() types.ContextID { return p.peer }

// Closed reports whether the endpoint can no longer send.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// String renders the endpoint for logs.
func (p *Port) String() string {
	return fmt.Sprintf("port %s/%s (%s -> %s)", p.name, p.id, p.local, p.peer)
}

// Send delivers env to the other endpoint. Envelopes sent on one port arrive
// in the order they were sent.
func (p *Port) Send(env types.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("%s: %w", p, types.ErrPortClosed)
	}

	other := p.other
	if err := other.owner.Post(func() { other.deliver(env) }); err != nil {
		// The peer context is gone; its terminate hook closes the port.
		return fmt.Errorf("%s: %w", p, types.ErrPortClosed)
	}
	return nil
}

// OnMessage adds a handler. Handlers fire in registration order, once per
// envelope. Envelopes that arrived before the first handler was added are
// handed to it in arrival order.
func (p *Port) OnMessage(h MessageHandler) {
	p.mu.Lock()
	p.onMessage = append(p.onMessage, h)
	pending := len(p.inbox) > 0
	p.mu.Unlock()

	if pending {
		_ = p.owner.Post(p.flush)
	}
}

// OnDisconnect adds a handler fired once when the peer closes the port or
// its context terminates. A handler added after that fires right away on the
// owner's loop. Closing an endpoint locally does not notify its own handlers.
func (p *Port) OnDisconnect(h DisconnectHandler) {
	p.mu.Lock()
	p.onDisconnect = append(p.onDisconnect, h)
	fired := p.disconnected
	p.mu.Unlock()

	if fired {
		_ = p.owner.Post(func() { h(p) })
	}
}

// Close disconnects the port. The peer receives exactly one disconnect
// notification. Safe to call multiple times.
func (p *Port) Close() error {
	p.hub.disconnect(p)
	return nil
}

// markClosed flips the endpoint to closed and reports whether it was open.
func (p *Port) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

// deliver runs on the owner's loop.
func (p *Port) deliver(env types.Envelope) {
	p.mu.Lock()
	p.inbox = append(p.inbox, env)
	p.mu.Unlock()
	p.flush()
}

// flush hands queued envelopes to the handlers. It runs on the owner's loop
// and keeps envelopes queued while there is no handler.
func (p *Port) flush() {
	p.mu.Lock()
	if len(p.onMessage) == 0 || len(p.inbox) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.inbox
	p.inbox = nil
	handlers := append([]MessageHandler(nil), p.onMessage...)
	p.mu.Unlock()

	for _, env := range batch {
		p.hub.emit.Emit(types.NewPortMessageEvent(p.local, p.peer, p.id, p.name, env.Subject))
		for _, h := range handlers {
			h(p, env)
		}
	}
}

// notifyDisconnect runs on the owner's loop.
func (p *Port) notifyDisconnect() {
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		return
	}
	p.disconnected = true
	handlers := append([]DisconnectHandler(nil), p.onDisconnect...)
	p.mu.Unlock()

	p.hub.emit.Emit(types.NewPortDisconnectedEvent(p.local, p.peer, p.id, p.name))
	for _, h := range handlers {
		h(p)
	}
}
