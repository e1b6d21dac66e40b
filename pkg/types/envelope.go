package types

import "fmt"

// Subject identifies the intent of an envelope.
type Subject string

const (
	SubjectDOMInfo      Subject = "DOMInfo"      // SubjectDOMInfo asks a content script about its page.
	SubjectPortGreeting Subject = "PortGreeting" // SubjectPortGreeting is the first message a popup posts on its port.
	SubjectRelay        Subject = "Relay"        // SubjectRelay wraps a port message the background forwards to other ports.
	SubjectAck          Subject = "Ack"          // SubjectAck is a free-form acknowledgement.
)

// Subjects returns every known subject.
func Subjects() []Subject {
	return []Subject{SubjectDOMInfo, SubjectPortGreeting, SubjectRelay, SubjectAck}
}

// Valid reports whether s is a known subject.
func (s Subject) Valid() bool {
	for _, known := range Subjects() {
		if s == known {
			return true
		}
	}
	return false
}

// Payload is the closed set of values an envelope may carry.
// Only types in this package implement it.
type Payload interface {
	Subject() Subject
	sealed()
}

// PayloadVisitor handles every payload kind. Receivers implement it to match
// envelopes exhaustively: adding a subject adds a method here.
type PayloadVisitor interface {
	VisitDOMInfo(from ContextKind, p DOMInfoRequest) error
	VisitPortGreeting(from ContextKind, p PortGreeting) error
	VisitRelay(from ContextKind, p Relay) error
	VisitAck(from ContextKind, p Ack) error
}

// DOMInfoRequest asks a content script for information about its document.
type DOMInfoRequest struct{}

func (DOMInfoRequest) Subject() Subject { return SubjectDOMInfo }

func (DOMInfoRequest) sealed() {}

// PortGreeting is posted by a popup right after it connects.
type PortGreeting struct {
	Text string
	// Tab is the popup's active tab; zero when none was found.
	Tab TabDescriptor
}

func (PortGreeting) Subject() Subject { return SubjectPortGreeting }

func (PortGreeting) sealed() {}

// Relay is a port message forwarded by the background hub.
type Relay struct {
	PortID   string
	PortName string
	Origin   ContextID
	Inner    Payload
}

func (Relay) Subject() Subject { return SubjectRelay }

func (Relay) sealed() {}

// Ack acknowledges a message.
type Ack struct {
	Text string
}

func (Ack) Subject() Subject { return SubjectAck }

func (Ack) sealed() {}

// Envelope is the unit every context exchanges. Envelopes are values and are
// never mutated after they are sent.
type Envelope struct {
	From    ContextKind
	Subject Subject
	Payload Payload
}

// NewEnvelope builds an envelope whose subject is derived from the payload.
func NewEnvelope(from ContextKind, payload Payload) Envelope {
	env := Envelope{From: from, Payload: payload}
	if payload != nil {
		env.Subject = payload.Subject()
	}
	return env
}

// Validate checks the envelope is well formed.
func (e Envelope) Validate() error {
	if !e.From.Valid() {
		return fmt.Errorf("%w: unknown sender kind %q", ErrInvalidEnvelope, e.From)
	}
	if !e.Subject.Valid() {
		return fmt.Errorf("%w: unknown subject %q", ErrInvalidEnvelope, e.Subject)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: missing payload for %s", ErrInvalidEnvelope, e.Subject)
	}
	if e.Payload.Subject() != e.Subject {
		return fmt.Errorf("%w: subject %s does not match %s payload", ErrInvalidEnvelope, e.Subject, e.Payload.Subject())
	}
	if r, ok := e.Payload.(Relay); ok && r.Inner == nil {
		return fmt.Errorf("%w: relay without inner payload", ErrInvalidEnvelope)
	}
	return nil
}

// Is reports whether the envelope came from the given kind with the given subject.
func (e Envelope) Is(from ContextKind, subject Subject) bool {
	return e.From == from && e.Subject == subject
}

// Accept dispatches the payload to the matching visitor method.
func (e Envelope) Accept(v PayloadVisitor) error {
	if err := e.Validate(); err != nil {
		return err
	}
	switch p := e.Payload.(type) {
	case DOMInfoRequest:
		return v.VisitDOMInfo(e.From, p)
	case PortGreeting:
		return v.VisitPortGreeting(e.From, p)
	case Relay:
		return v.VisitRelay(e.From, p)
	case Ack:
		return v.VisitAck(e.From, p)
	}
	return fmt.Errorf("%w: unhandled payload %T", ErrInvalidEnvelope, e.Payload)
}
