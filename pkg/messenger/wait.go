package messenger

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/courier/pkg/types"
)

// waitForReply waits for the handler's reply, then for its promise if it
// deferred. One timer bounds both steps.
func (m *Messenger) waitForReply(ctx context.Context, call *pendingCall, from types.ContextID, subject types.Subject) (any, error) {
	timeout := time.NewTimer(m.timeout)
	defer timeout.Stop()

	var r reply
	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timeout.C:
		return nil, m.timedOut(call, from, subject)

	case <-call.gone:
		// A reply may have landed right before the target went away.
		select {
		case r = <-call.reply:
		default:
			return nil, fmt.Errorf("%s to %s: context terminated before replying: %w", subject, call.target, types.ErrDeliveryFailed)
		}

	case r = <-call.reply:
	}

	if r.err != nil {
		return nil, r.err
	}

	p, deferred := isPromise(r.value)
	if !deferred {
		return r.value, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timeout.C:
		return nil, m.timedOut(call, from, subject)

	case <-call.gone:
		return nil, fmt.Errorf("%s to %s: context terminated before replying: %w", subject, call.target, types.ErrDeliveryFailed)

	case <-p.Done():
		return p.Await(context.Background())
	}
}

func (m *Messenger) timedOut(call *pendingCall, from types.ContextID, subject types.Subject) error {
	m.logger.Warnf("%s from %s to %s: no reply within %s", subject, from, call.target, m.timeout)
	m.emit.Emit(types.NewMessageTimeoutEvent(from, call.target, subject))
	return fmt.Errorf("%s to %s: no reply within %s: %w", subject, call.target, m.timeout, types.ErrTimeout)
}
