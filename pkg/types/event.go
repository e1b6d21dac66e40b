package types

// TransportEventType defines the type of event emitted by the messaging layer.
type TransportEventType string

const (
	EventTypePortConnected     TransportEventType = "port_connected"     // EventTypePortConnected indicates a port was accepted by its target.
	EventTypePortMessage       TransportEventType = "port_message"       // EventTypePortMessage indicates an envelope was delivered on a port.
	EventTypePortDisconnected  TransportEventType = "port_disconnected"  // EventTypePortDisconnected indicates a port was closed by either side.
	EventTypeMessageSent       TransportEventType = "message_sent"       // EventTypeMessageSent indicates a one-shot message left its sender.
	EventTypeMessageDelivered  TransportEventType = "message_delivered"  // EventTypeMessageDelivered indicates a one-shot message reached a handler.
	EventTypeMessageUnhandled  TransportEventType = "message_unhandled"  // EventTypeMessageUnhandled indicates no handler in the target matched.
	EventTypeMessageTimeout    TransportEventType = "message_timeout"    // EventTypeMessageTimeout indicates a reply did not arrive in time.
	EventTypeScriptExecuted    TransportEventType = "script_executed"    // EventTypeScriptExecuted indicates a remote operation completed.
	EventTypeScriptFailed      TransportEventType = "script_failed"      // EventTypeScriptFailed indicates a remote operation failed.
	EventTypeContextStarted    TransportEventType = "context_started"    // EventTypeContextStarted indicates a context began running.
	EventTypeContextTerminated TransportEventType = "context_terminated" // EventTypeContextTerminated indicates a context stopped.
)

// TransportEvent describes something that happened while moving envelopes
// between contexts.
type TransportEvent struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Error contains error information for failure events.
	Error error

	// Type indicates the kind of event.
	Type TransportEventType

	// Context is the context the event is reported from.
	Context ContextID

	// Peer is the other side of the exchange, when there is one.
	Peer ContextID

	// PortID and PortName identify the port for port events.
	PortID   string
	PortName string

	// Subject is the envelope subject for message events.
	Subject Subject

	// TabID is the target tab for remote execution events.
	TabID int

	// Operation is the remote operation name for script events.
	Operation string
}

// EventEmitter receives transport events.
type EventEmitter func(event *TransportEvent)

// Emit calls the emitter if it is set.
func (e EventEmitter) Emit(event *TransportEvent) {
	if e != nil {
		e(event)
	}
}

// NewPortConnectedEvent creates a port connected event.
func NewPortConnectedEvent(local, peer ContextID, portID, name string) *TransportEvent {
	return &TransportEvent{
		Type:     EventTypePortConnected,
		Context:  local,
		Peer:     peer,
		PortID:   portID,
		PortName: name,
		Metadata: make(map[string]interface{}),
	}
}

// NewPortMessageEvent creates a port message event.
func NewPortMessageEvent(local, peer ContextID, portID, name string, subject Subject) *TransportEvent {
	return &TransportEvent{
		Type:     EventTypePortMessage,
		Context:  local,
		Peer:     peer,
		PortID:   portID,
		PortName: name,
		Subject:  subject,
		Metadata: make(map[string]interface{}),
	}
}

// NewPortDisconnectedEvent creates a port disconnected event.
func NewPortDisconnectedEvent(local, peer ContextID, portID, name string) *TransportEvent {
	return &TransportEvent{
		Type:     EventTypePortDisconnected,
		Context:  local,
		Peer:     peer,
		PortID:   portID,
		PortName: name,
		Metadata: make(map[string]interface{}),
	}
}

// NewMessageSentEvent creates a message sent event.
func NewMessageSentEvent(from, to ContextID, subject Subject) *TransportEvent {
	return &TransportEvent{
		Type:     EventTypeMessageSent,
		Context:  from,
		Peer:     to,
		Subject:  subject,
		Metadata: make(map[string]interface{}),
	}
}

// NewMessageDeliveredEvent creates a message delivered event.
func NewMessageDeliveredEvent(to, from ContextID, subject Subject) *TransportEvent {
	return &TransportEvent{
		Type:     EventTypeMessageDelivered,
		Context:  to,
		Peer:     from,
		Subject:  subject,
		Metadata: make(map[string]interface{}),
	}
}

// NewMessageUnhandledEvent creates a message unhandled event.
func NewMessageUnhandledEvent(to, from ContextID, subject Subject) *TransportEvent {
	return &TransportEvent{
		Type:     EventTypeMessageUnhandled,
		Context:  to,
		Peer:     from,
		Subject:  subject,
		Metadata: make(map[string]interface{}),
	}
}

// NewMessageTimeoutEvent creates a message timeout event.
func NewMessageTimeoutEvent(from, to ContextID, subject Subject) *TransportEvent {
	return &TransportEvent{
		Type:     EventTypeMessageTimeout,
		Context:  from,
		Peer:     to,
		Subject:  subject,
		Error:    ErrTimeout,
		Metadata: make(map[string]interface{}),
	}
}

// NewScriptExecutedEvent creates a script executed event.
func NewScriptExecutedEvent(tabID int, operation string, frames int) *TransportEvent {
	return &TransportEvent{
		Type:      EventTypeScriptExecuted,
		TabID:     tabID,
		Operation: operation,
		Metadata: map[string]interface{}{
			"frames": frames,
		},
	}
}

// NewScriptFailedEvent creates a script failed event.
func NewScriptFailedEvent(tabID int, operation string, err error) *TransportEvent {
	return &TransportEvent{
		Type:      EventTypeScriptFailed,
		TabID:     tabID,
		Operation: operation,
		Error:     err,
		Metadata:  make(map[string]interface{}),
	}
}

// NewContextStartedEvent creates a context started event.
func NewContextStartedEvent(id ContextID) *TransportEvent {
	return &TransportEvent{
		Type:     EventTypeContextStarted,
		Context:  id,
		Metadata: make(map[string]interface{}),
	}
}

// NewContextTerminatedEvent creates a context terminated event.
func NewContextTerminatedEvent(id ContextID) *TransportEvent {
	return &TransportEvent{
		Type:     EventTypeContextTerminated,
		Context:  id,
		Metadata: make(map[string]interface{}),
	}
}
