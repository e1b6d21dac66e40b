// Package port implements long-lived, named, bidirectional channels between
// contexts.
//
// A context accepts connections by listening on the Hub. Connect creates a
// pair of endpoints sharing an ID; each side sends on its endpoint and
// receives on the other side's event loop. Ports close explicitly or when
// either context terminates, and a closed port never reopens.
package port

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/entrhq/courier/pkg/runtime"
	"github.com/entrhq/courier/pkg/types"
	"github.com/google/uuid"
)

// Acceptor is called on the target's loop with the target's endpoint of a
// new connection.
type Acceptor func(p *Port)

// Hub brokers port connections between the contexts of one runtime.
type Hub struct {
	rt            *runtime.Runtime
	emit          types.EventEmitter
	maxPerContext int

	mu        sync.Mutex
	acceptors map[types.ContextID]Acceptor
	endpoints map[types.ContextID]map[string]*Port
}

// Option configures a Hub.
type Option func(*Hub)

// WithEmitter sets the sink for port events.
func WithEmitter(emit types.EventEmitter) Option {
	return func(h *Hub) {
		h.emit = emit
	}
}

// WithMaxPerContext limits the open ports a context may hold. Zero means no
// limit.
func WithMaxPerContext(max int) Option {
	return func(h *Hub) {
		h.maxPerContext = max
	}
}

// NewHub creates a hub. Ports held by a context are closed when it
// terminates.
func NewHub(rt *runtime.Runtime, opts ...Option) *Hub {
	h := &Hub{
		rt:        rt,
		acceptors: make(map[types.ContextID]Acceptor),
		endpoints: make(map[types.ContextID]map[string]*Port),
	}
	for _, opt := range opts {
		opt(h)
	}
	rt.OnTerminate(h.contextTerminated)
	return h
}

// Listen installs the connection acceptor of a running context.
func (h *Hub) Listen(owner types.ContextID, fn Acceptor) error {
	if _, ok := h.rt.Lookup(owner); !ok {
		return fmt.Errorf("listen on %s: %w", owner, types.ErrContextNotRunning)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.acceptors[owner]; exists {
		return fmt.Errorf("listen on %s: %w", owner, types.ErrDuplicateHandler)
	}
	h.acceptors[owner] = fn
	return nil
}

// Connect opens a port from one context to another. The target's acceptor
// runs on the target's loop before any envelope sent on the new port is
// delivered there.
func (h *Hub) Connect(ctx context.Context, from, target types.ContextID, name string) (*Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if from == target {
		return nil, fmt.Errorf("connect to %s: a context cannot connect to itself: %w", target, types.ErrConnectionRefused)
	}

	fromCtx, ok := h.rt.Lookup(from)
	if !ok {
		return nil, fmt.Errorf("connect from %s: %w", from, types.ErrContextNotRunning)
	}
	targetCtx, ok := h.rt.Lookup(target)
	if !ok {
		return nil, fmt.Errorf("connect to %s: context not running: %w", target, types.ErrConnectionRefused)
	}

	h.mu.Lock()
	accept, ok := h.acceptors[target]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("connect to %s: no listener: %w", target, types.ErrConnectionRefused)
	}
	for _, id := range []types.ContextID{from, target} {
		if h.maxPerContext > 0 && len(h.endpoints[id]) >= h.maxPerContext {
			h.mu.Unlock()
			return nil, fmt.Errorf("connect to %s: %s holds the maximum of %d ports: %w",
				target, id, h.maxPerContext, types.ErrConnectionRefused)
		}
	}

	id := uuid.New().String()
	local := &Port{id: id, name: name, local: from, peer: target, hub: h, owner: fromCtx}
	remote := &Port{id: id, name: name, local: target, peer: from, hub: h, owner: targetCtx}
	local.other = remote
	remote.other = local
	h.addLocked(local)
	h.addLocked(remote)
	h.mu.Unlock()

	if err := targetCtx.Post(func() {
		h.emit.Emit(types.NewPortConnectedEvent(target, from, id, name))
		accept(remote)
	}); err != nil {
		h.mu.Lock()
		h.removeLocked(local)
		h.removeLocked(remote)
		h.mu.Unlock()
		return nil, fmt.Errorf("connect to %s: %v: %w", target, err, types.ErrConnectionRefused)
	}
	return local, nil
}

// Ports returns the open endpoints held by a context, ordered by name then ID.
func (h *Hub) Ports(owner types.ContextID) []*Port {
	h.mu.Lock()
	out := make([]*Port, 0, len(h.endpoints[owner]))
	for _, p := range h.endpoints[owner] {
		out = append(out, p)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return out[i].id < out[j].id
	})
	return out
}

// disconnect closes both endpoints and notifies the side that did not close.
func (h *Hub) disconnect(p *Port) {
	if !p.markClosed() {
		return
	}
	other := p.other
	other.markClosed()

	h.mu.Lock()
	h.removeLocked(p)
	h.removeLocked(other)
	h.mu.Unlock()

	// Envelopes already queued on the peer loop are delivered first.
	_ = other.owner.Post(other.notifyDisconnect)
}

func (h *Hub) contextTerminated(id types.ContextID) {
	h.mu.Lock()
	delete(h.acceptors, id)
	held := make([]*Port, 0, len(h.endpoints[id]))
	for _, p := range h.endpoints[id] {
		held = append(held, p)
	}
	h.mu.Unlock()

	for _, p := range held {
		h.disconnect(p)
	}
}

func (h *Hub) addLocked(p *Port) {
	byID, ok := h.endpoints[p.local]
	if !ok {
		byID = make(map[string]*Port)
		h.endpoints[p.local] = byID
	}
	byID[p.id] = p
}

func (h *Hub) removeLocked(p *Port) {
	byID, ok := h.endpoints[p.local]
	if !ok {
		return
	}
	delete(byID, p.id)
	if len(byID) == 0 {
		delete(h.endpoints, p.local)
	}
}
