package extension

import (
	"fmt"
	"sort"
	"sync"

	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/port"
	"github.com/entrhq/courier/pkg/types"
)

// Background is the long-lived hub. It accepts every port opened to it, logs
// what arrives and relays each message to the other open ports.
type Background struct {
	hub    *port.Hub
	logger *logging.Logger

	mu    sync.Mutex
	ports map[string]*port.Port
}

// NewBackground creates the background role. Start registers it with the hub.
func NewBackground(hub *port.Hub, logger *logging.Logger) *Background {
	return &Background{
		hub:    hub,
		logger: logger,
		ports:  make(map[string]*port.Port),
	}
}

// Start begins accepting ports. The background context must be running.
func (b *Background) Start() error {
	if err := b.hub.Listen(types.BackgroundID(), b.accept); err != nil {
		return fmt.Errorf("failed to listen for ports: %w", err)
	}
	return nil
}

// Ports returns the open ports, ordered by name then ID.
func (b *Background) Ports() []*port.Port {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*port.Port, 0, len(b.ports))
	for _, p := range b.ports {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

func (b *Background) accept(p *port.Port) {
	b.mu.Lock()
	b.ports[p.ID()] = p
	b.mu.Unlock()

	b.logger.Infof("Port %q connected from %s", p.Name(), p.Peer())
	p.OnMessage(b.onMessage)
	p.OnDisconnect(func(p *port.Port) {
		b.mu.Lock()
		delete(b.ports, p.ID())
		b.mu.Unlock()
		b.logger.Infof("Port %q from %s disconnected", p.Name(), p.Peer())
	})
}

func (b *Background) onMessage(p *port.Port, env types.Envelope) {
	if err := env.Accept(&messageLogger{logger: b.logger, port: p}); err != nil {
		b.logger.Warnf("Dropping message on port %s: %v", p, err)
		return
	}

	// Relays are not relayed again.
	if env.Subject == types.SubjectRelay {
		return
	}

	relay := types.NewEnvelope(types.ContextBackground, types.Relay{
		PortID:   p.ID(),
		PortName: p.Name(),
		Origin:   p.Peer(),
		Inner:    env.Payload,
	})
	for _, other := range b.Ports() {
		if other.ID() == p.ID() {
			continue
		}
		if err := other.Send(relay); err != nil {
			b.logger.Debugf("Relay to %s skipped: %v", other, err)
		}
	}
}

// messageLogger writes one log line per payload kind.
type messageLogger struct {
	logger *logging.Logger
	port   *port.Port
}

func (l *messageLogger) VisitDOMInfo(from types.ContextKind, _ types.DOMInfoRequest) error {
	l.logger.Infof("Background received DOMInfo request from %s on %s", from, l.port)
	return nil
}

func (l *messageLogger) VisitPortGreeting(from types.ContextKind, p types.PortGreeting) error {
	if p.Tab.ID == 0 {
		l.logger.Infof("Background received %q from %s on %s (no active tab)", p.Text, from, l.port)
		return nil
	}
	l.logger.Infof("Background received %q from %s on %s for %s", p.Text, from, l.port, p.Tab)
	return nil
}

func (l *messageLogger) VisitRelay(from types.ContextKind, p types.Relay) error {
	l.logger.Infof("Background received relayed %s from %s via port %q", p.Inner.Subject(), p.Origin, p.PortName)
	return nil
}

func (l *messageLogger) VisitAck(from types.ContextKind, p types.Ack) error {
	l.logger.Infof("Background received ack %q from %s on %s", p.Text, from, l.port)
	return nil
}
