package messenger

import (
	"sync"

	"github.com/entrhq/courier/pkg/types"
	"github.com/google/uuid"
)

// reply is what a handler produced for a pending call.
type reply struct {
	value any
	err   error
}

// pendingCall tracks a Send waiting for its reply. Calls are correlated by
// their ID only; nothing is added to the envelope.
type pendingCall struct {
	id         string
	target     types.ContextID
	generation uint64
	reply      chan reply
	gone       chan struct{}
	goneOnce   sync.Once // Ensures gone is closed exactly once
}

// fail reports that the target terminated before replying.
func (c *pendingCall) fail() {
	c.goneOnce.Do(func() {
		close(c.gone)
	})
}

// setupPendingCall stores a new pending call
func (m *Messenger) setupPendingCall(target types.ContextID, generation uint64) *pendingCall {
	call := &pendingCall{
		id:         uuid.New().String(),
		target:     target,
		generation: generation,
		reply:      make(chan reply, 1),
		gone:       make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[call.id] = call
	return call
}

// handleReply hands a handler's reply to the waiting caller
func (m *Messenger) handleReply(callID string, r reply) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call, ok := m.pending[callID]
	if !ok {
		// The caller gave up already
		return
	}

	// Non-blocking: a call is answered at most once
	select {
	case call.reply <- r:
	default:
	}
}

// cleanupPendingCall removes a pending call. Safe to call multiple times.
func (m *Messenger) cleanupPendingCall(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, callID)
}

// Pending returns the number of calls waiting for a reply.
func (m *Messenger) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
