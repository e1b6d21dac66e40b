// Package promise provides a write-once result that can be awaited.
//
// Handlers that cannot answer synchronously return a Promise instead of a
// value; the messaging layer awaits it off the handler's event loop.
package promise

import (
	"context"
	"sync"
)

// Promise holds a value or an error that is settled exactly once.
type Promise struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// New returns a pending promise.
func New() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolved returns a promise already settled with v.
func Resolved(v any) *Promise {
	p := New()
	p.Resolve(v)
	return p
}

// Rejected returns a promise already settled with err.
func Rejected(err error) *Promise {
	p := New()
	p.Reject(err)
	return p
}

// Go runs fn on its own goroutine and settles the promise with its result.
func Go(fn func() (any, error)) *Promise {
	p := New()
	go func() {
		v, err := fn()
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}

// Resolve settles the promise with v. Later calls are ignored.
func (p *Promise) Resolve(v any) {
	p.once.Do(func() {
		p.value = v
		close(p.done)
	})
}

// Reject settles the promise with err. Later calls are ignored.
func (p *Promise) Reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed once the promise is settled.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the promise settles or ctx ends.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
