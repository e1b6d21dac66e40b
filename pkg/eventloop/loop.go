// Package eventloop provides the single-threaded task loop each context runs on.
//
// A Loop executes posted tasks one at a time, in the order they were posted,
// on a single goroutine. Posting never blocks, so a task may post further
// tasks to its own loop or to other loops without deadlocking.
package eventloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/courier/pkg/types"
)

// PanicHandler is called on the loop goroutine when a task panics.
type PanicHandler func(recovered interface{})

// Loop is a FIFO task queue drained by one goroutine.
type Loop struct {
	name    string
	onPanic PanicHandler

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithPanicHandler sets the handler for panicking tasks. Without one, a
// panicking task is dropped and the loop keeps running.
func WithPanicHandler(h PanicHandler) Option {
	return func(l *Loop) {
		l.onPanic = h
	}
}

// New creates a loop and starts its goroutine.
func New(name string, opts ...Option) *Loop {
	l := &Loop{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.name
}

// Post enqueues fn. It returns ErrContextNotRunning once the loop is closed.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("loop %s: %w", l.name, types.ErrContextNotRunning)
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call posts fn and waits until it has run. It must not be called from a
// task running on the same loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have run the task right before stopping.
		select {
		case <-finished:
			return nil
		default:
		}
		return fmt.Errorf("loop %s: %w", l.name, types.ErrContextNotRunning)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks. Tasks already queued are discarded, the task
// currently running finishes. Close does not wait; use Done for that.
// Safe to call multiple times and from a task on the loop itself.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		fn, ok := l.next()
		if !ok {
			return
		}
		if fn == nil {
			<-l.wake
			continue
		}
		l.execute(fn)
	}
}

// next pops the head of the queue. It returns (nil, true) when the queue is
// empty and (nil, false) once the loop is closed.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, false
	}
	if len(l.queue) == 0 {
		return nil, true
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.onPanic != nil {
			l.onPanic(r)
		}
	}()
	fn()
}
