// Package messenger implements one-shot request/response messages between
// contexts.
//
// A context registers handlers for the subjects it answers. Send delivers an
// envelope on the target's event loop, waits for the handler's reply and
// returns a structured clone of it. A handler that cannot answer right away
// returns a *promise.Promise, which is awaited without holding the target's
// loop.
package messenger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/courier/pkg/clone"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/promise"
	"github.com/entrhq/courier/pkg/registry"
	"github.com/entrhq/courier/pkg/runtime"
	"github.com/entrhq/courier/pkg/types"
)

// DefaultReplyTimeout bounds how long Send waits for a reply.
const DefaultReplyTimeout = 30 * time.Second

// Handler answers a one-shot message. It runs on the receiving context's
// loop. The reply is any cloneable value, nil for no reply, or a
// *promise.Promise settled later.
//
// Send blocks its caller, so a handler must not call it directly: the loop
// would stall and a reply routed back to the same context would time out.
// Send from a promise instead:
//
//	return promise.Go(func() (any, error) {
//		return m.Send(ctx, self, target, env)
//	}), nil
type Handler func(sender types.ContextID, env types.Envelope) (any, error)

// Predicate selects the messages a predicate handler wants.
type Predicate func(from types.ContextKind, subject types.Subject) bool

type predicateHandler struct {
	match  Predicate
	handle Handler
}

// Messenger routes one-shot messages between the contexts of a runtime.
type Messenger struct {
	rt       *runtime.Runtime
	registry *registry.Registry
	timeout  time.Duration
	emit     types.EventEmitter
	logger   *logging.Logger

	mu         sync.Mutex
	handlers   map[types.ContextID]map[types.Subject]Handler
	predicates map[types.ContextID][]predicateHandler
	pending    map[string]*pendingCall
}

// Option configures a Messenger.
type Option func(*Messenger)

// WithReplyTimeout sets how long Send waits for a reply.
func WithReplyTimeout(d time.Duration) Option {
	return func(m *Messenger) {
		m.timeout = d
	}
}

// WithEmitter sets the sink for message events.
func WithEmitter(emit types.EventEmitter) Option {
	return func(m *Messenger) {
		m.emit = emit
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Messenger) {
		m.logger = l
	}
}

// New creates a messenger. Handlers of a context are dropped and its pending
// calls fail when it terminates.
func New(rt *runtime.Runtime, opts ...Option) *Messenger {
	m := &Messenger{
		rt:         rt,
		registry:   rt.Registry(),
		timeout:    DefaultReplyTimeout,
		logger:     logging.Discard(),
		handlers:   make(map[types.ContextID]map[types.Subject]Handler),
		predicates: make(map[types.ContextID][]predicateHandler),
		pending:    make(map[string]*pendingCall),
	}
	for _, opt := range opts {
		opt(m)
	}
	rt.OnTerminate(m.contextTerminated)
	return m
}

// Handle registers the handler for one subject in a context. There is at most
// one handler per subject and context; a second registration fails with
// ErrDuplicateHandler.
func (m *Messenger) Handle(owner types.ContextID, subject types.Subject, h Handler) error {
	if !subject.Valid() {
		return fmt.Errorf("handle %q on %s: %w", subject, owner, types.ErrInvalidEnvelope)
	}
	if _, ok := m.rt.Lookup(owner); !ok {
		return fmt.Errorf("handle %s on %s: %w", subject, owner, types.ErrContextNotRunning)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bySubject, ok := m.handlers[owner]
	if !ok {
		bySubject = make(map[types.Subject]Handler)
		m.handlers[owner] = bySubject
	}
	if _, exists := bySubject[subject]; exists {
		return fmt.Errorf("handle %s on %s: %w", subject, owner, types.ErrDuplicateHandler)
	}
	bySubject[subject] = h
	return nil
}

// HandleFunc registers a predicate handler. Predicate handlers are consulted
// only when no subject handler exists, in registration order; the first
// non-nil reply wins.
func (m *Messenger) HandleFunc(owner types.ContextID, match Predicate, h Handler) error {
	if _, ok := m.rt.Lookup(owner); !ok {
		return fmt.Errorf("handle on %s: %w", owner, types.ErrContextNotRunning)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.predicates[owner] = append(m.predicates[owner], predicateHandler{match: match, handle: h})
	return nil
}

// Send delivers env from one context to another and returns the reply.
//
// The reply is nil when the target is not running or nothing in it handles
// the envelope. A target that goes away before replying, including a tab that
// navigates, yields ErrDeliveryFailed. A reply that cannot be cloned yields
// ErrSerialization, and no reply within the reply timeout yields ErrTimeout.
func (m *Messenger) Send(ctx context.Context, from, target types.ContextID, env types.Envelope) (any, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.From != from.Kind {
		return nil, fmt.Errorf("%w: envelope from %s sent by %s", types.ErrInvalidEnvelope, env.From, from)
	}
	if _, ok := m.rt.Lookup(from); !ok {
		return nil, fmt.Errorf("send from %s: %w", from, types.ErrContextNotRunning)
	}

	targetCtx, ok := m.rt.Lookup(target)
	if !ok {
		m.logger.Debugf("%s from %s: %s is not running", env.Subject, from, target)
		m.emit.Emit(types.NewMessageUnhandledEvent(target, from, env.Subject))
		return nil, nil
	}

	call := m.setupPendingCall(target, targetCtx.Generation())
	defer m.cleanupPendingCall(call.id)

	m.emit.Emit(types.NewMessageSentEvent(from, target, env.Subject))
	if err := targetCtx.Post(func() { m.dispatch(call, from, target, env) }); err != nil {
		return nil, fmt.Errorf("send %s to %s: %v: %w", env.Subject, target, err, types.ErrDeliveryFailed)
	}

	value, err := m.waitForReply(ctx, call, from, env.Subject)
	if err != nil {
		return nil, err
	}
	if err := m.checkGeneration(target, call.generation); err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	out, err := clone.Clone(value)
	if err != nil {
		return nil, fmt.Errorf("reply from %s to %s: %w", target, env.Subject, err)
	}
	return out, nil
}

// SendToTab sends env to the content script of a tab.
func (m *Messenger) SendToTab(ctx context.Context, from types.ContextID, tabID int, env types.Envelope) (any, error) {
	if _, err := m.registry.Get(ctx, tabID); err != nil {
		return nil, err
	}
	return m.Send(ctx, from, types.ContentScriptID(tabID), env)
}

// dispatch runs on the target's loop.
func (m *Messenger) dispatch(call *pendingCall, from, target types.ContextID, env types.Envelope) {
	value, handled, err := m.invoke(from, target, env)
	if handled {
		m.emit.Emit(types.NewMessageDeliveredEvent(target, from, env.Subject))
	} else {
		m.emit.Emit(types.NewMessageUnhandledEvent(target, from, env.Subject))
	}
	m.handleReply(call.id, reply{value: value, err: err})
}

func (m *Messenger) invoke(from, target types.ContextID, env types.Envelope) (value any, handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("handler for %s in %s panicked: %v", env.Subject, target, r)
			value, handled = nil, true
			err = fmt.Errorf("handler for %s in %s panicked: %v: %w", env.Subject, target, r, types.ErrDeliveryFailed)
		}
	}()

	h, preds := m.handlersFor(target, env.Subject)
	if h != nil {
		value, err = h(from, env)
		return value, true, err
	}

	for _, ph := range preds {
		if !ph.match(env.From, env.Subject) {
			continue
		}
		handled = true
		value, err = ph.handle(from, env)
		if err != nil || value != nil {
			return value, true, err
		}
	}
	return nil, handled, nil
}

func (m *Messenger) handlersFor(owner types.ContextID, subject types.Subject) (Handler, []predicateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handlers[owner][subject]; ok {
		return h, nil
	}
	return nil, append([]predicateHandler(nil), m.predicates[owner]...)
}

// checkGeneration fails a reply from a content script whose tab changed
// document while the call was in flight.
func (m *Messenger) checkGeneration(target types.ContextID, generation uint64) error {
	if target.Kind != types.ContextContentScript {
		return nil
	}
	current, ok := m.registry.Generation(target.TabID)
	if !ok {
		return fmt.Errorf("reply from %s: tab closed: %w", target, types.ErrDeliveryFailed)
	}
	if current != generation {
		return fmt.Errorf("reply from %s: tab navigated: %w", target, types.ErrDeliveryFailed)
	}
	return nil
}

func (m *Messenger) contextTerminated(id types.ContextID) {
	m.mu.Lock()
	delete(m.handlers, id)
	delete(m.predicates, id)
	var gone []*pendingCall
	for _, call := range m.pending {
		if call.target == id {
			gone = append(gone, call)
		}
	}
	m.mu.Unlock()

	for _, call := range gone {
		call.fail()
	}
}

// isPromise reports whether a handler deferred its reply.
func isPromise(v any) (*promise.Promise, bool) {
	p, ok := v.(*promise.Promise)
	return p, ok && p != nil
}
