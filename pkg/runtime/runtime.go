// Package runtime hosts the isolated execution contexts of an extension.
//
// Every running context owns an event loop. Other components never touch a
// context's state directly: they post tasks to its loop. The runtime follows
// the tab registry so that a content script stops when its tab closes or
// navigates away.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/entrhq/courier/pkg/eventloop"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/registry"
	"github.com/entrhq/courier/pkg/types"
)

// TerminateHook is called after a context stopped accepting tasks.
type TerminateHook func(id types.ContextID)

// Context is a running execution context.
type Context struct {
	id         types.ContextID
	loop       *eventloop.Loop
	generation uint64
}

// ID returns the context address.
func (c *Context) ID() types.ContextID {
	return c.id
}

// Generation is the navigation generation of the tab a content script was
// started for. It is zero for other kinds.
func (c *Context) Generation() uint64 {
	return c.generation
}

// Post schedules fn on the context's event loop.
func (c *Context) Post(fn func()) error {
	if err := c.loop.Post(fn); err != nil {
		return fmt.Errorf("context %s: %w", c.id, types.ErrContextNotRunning)
	}
	return nil
}

// Call runs fn on the context's event loop and waits for it. It must not be
// called from the context's own loop.
func (c *Context) Call(ctx context.Context, fn func()) error {
	return c.loop.Call(ctx, fn)
}

// Running reports whether the context still accepts tasks.
func (c *Context) Running() bool {
	return !c.loop.Closed()
}

// Done is closed once the context's loop has exited.
func (c *Context) Done() <-chan struct{} {
	return c.loop.Done()
}

// Runtime tracks the running contexts.
type Runtime struct {
	registry *registry.Registry
	logger   *logging.Logger
	emit     types.EventEmitter

	mu       sync.RWMutex
	contexts map[types.ContextID]*Context
	stopped  []*Context
	hooks    []TerminateHook

	unsubscribe func()
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for context lifecycle and task panics.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithEmitter sets the sink for context lifecycle events.
func WithEmitter(emit types.EventEmitter) Option {
	return func(r *Runtime) {
		r.emit = emit
	}
}

// New creates a runtime bound to a tab registry.
func New(reg *registry.Registry, opts ...Option) *Runtime {
	r := &Runtime{
		registry: reg,
		logger:   logging.Discard(),
		contexts: make(map[types.ContextID]*Context),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.unsubscribe = reg.Subscribe(r.onTabEvent)
	return r
}

// Registry returns the tab registry the runtime follows.
func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

// Spawn starts a context. A content script can only start in an open tab.
func (r *Runtime) Spawn(id types.ContextID) (*Context, error) {
	if !id.Kind.Valid() {
		return nil, fmt.Errorf("cannot spawn context of kind %q", id.Kind)
	}

	var generation uint64
	if id.Kind == types.ContextContentScript {
		g, ok := r.registry.Generation(id.TabID)
		if !ok {
			return nil, fmt.Errorf("content script for tab %d: %w", id.TabID, types.ErrTabNotFound)
		}
		generation = g
	}

	r.mu.Lock()
	if _, exists := r.contexts[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("context %s is already running", id)
	}
	c := &Context{
		id:         id,
		generation: generation,
		loop: eventloop.New(id.String(), eventloop.WithPanicHandler(func(recovered interface{}) {
			r.logger.Errorf("context %s: recovered panic in task: %v", id, recovered)
		})),
	}
	r.contexts[id] = c
	r.mu.Unlock()

	r.logger.Debugf("context %s started", id)
	r.emit.Emit(types.NewContextStartedEvent(id))
	return c, nil
}

// Lookup returns the running context with the given address.
func (r *Runtime) Lookup(id types.ContextID) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contexts[id]
	return c, ok
}

// OnTerminate registers a hook called, in registration order, every time a
// context terminates.
func (r *Runtime) OnTerminate(hook TerminateHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Terminate stops a context. Queued tasks are discarded and terminate hooks
// run on the calling goroutine. It does not wait for the loop to exit, so a
// context may terminate itself from one of its own tasks.
func (r *Runtime) Terminate(id types.ContextID) error {
	r.mu.Lock()
	c, ok := r.contexts[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("context %s: %w", id, types.ErrContextNotRunning)
	}
	delete(r.contexts, id)
	r.stopped = append(pruneStopped(r.stopped), c)
	hooks := append([]TerminateHook(nil), r.hooks...)
	r.mu.Unlock()

	c.loop.Close()
	for _, hook := range hooks {
		hook(id)
	}

	r.logger.Debugf("context %s terminated", id)
	r.emit.Emit(types.NewContextTerminatedEvent(id))
	return nil
}

// Running returns the addresses of the running contexts, sorted.
func (r *Runtime) Running() []types.ContextID {
	r.mu.RLock()
	ids := make([]types.ContextID, 0, len(r.contexts))
	for id := range r.contexts {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Shutdown terminates every context and waits for their loops to exit.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.unsubscribe()

	for _, id := range r.Running() {
		// A concurrent Terminate may have won; that is fine.
		_ = r.Terminate(id)
	}

	r.mu.RLock()
	stopped := append([]*Context(nil), r.stopped...)
	r.mu.RUnlock()

	for _, c := range stopped {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for context %s to stop: %w", c.id, ctx.Err())
		}
	}

	r.mu.Lock()
	r.stopped = pruneStopped(r.stopped)
	r.mu.Unlock()
	return nil
}

// pruneStopped drops contexts whose loops already exited.
func pruneStopped(stopped []*Context) []*Context {
	kept := stopped[:0]
	for _, c := range stopped {
		select {
		case <-c.Done():
		default:
			kept = append(kept, c)
		}
	}
	return kept
}

// onTabEvent ends the content script of a tab that closed or navigated.
func (r *Runtime) onTabEvent(ev registry.TabEvent) {
	switch ev.Type {
	case registry.TabClosed, registry.TabNavigated:
	default:
		return
	}

	id := types.ContentScriptID(ev.Tab.ID)
	if _, ok := r.Lookup(id); !ok {
		return
	}
	if err := r.Terminate(id); err != nil {
		r.logger.Debugf("tab %d %s: %v", ev.Tab.ID, ev.Type, err)
	}
}
