package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/courier/pkg/bridge"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/messenger"
	"github.com/entrhq/courier/pkg/port"
	"github.com/entrhq/courier/pkg/registry"
	"github.com/entrhq/courier/pkg/runtime"
	"github.com/entrhq/courier/pkg/types"
	"golang.org/x/sync/errgroup"
)

const (
	// PopupPortName is the name of the port a popup opens to the background.
	PopupPortName = "popup"

	// GreetingText is the first message a popup posts on its port.
	GreetingText = "Popup posting port message"
)

// Report is what one popup activation observed.
type Report struct {
	// Tab is the active tab; zero when TabFound is false.
	Tab      types.TabDescriptor
	TabFound bool

	// DOMInfo is the content script's reply, nil when nothing answered.
	DOMInfo    any
	DOMInfoErr error

	Scrape    types.ScrapeResult
	ScrapeErr error
}

// Popup is one activation of the popup. It owns an ephemeral context that is
// torn down by Close, which also closes its port.
type Popup struct {
	id        types.ContextID
	rt        *runtime.Runtime
	reg       *registry.Registry
	hub       *port.Hub
	messenger *messenger.Messenger
	bridge    *bridge.Bridge
	logger    *logging.Logger

	port *port.Port
}

// ID returns the popup's context address.
func (p *Popup) ID() types.ContextID {
	return p.id
}

// Port returns the port opened by Activate, nil before that.
func (p *Popup) Port() *port.Port {
	return p.port
}

// Activate runs the popup flow: connect to the background and greet it with
// the active tab, then ask the tab's content script for DOM info while
// scraping the page. Failures of the last two steps are logged and recorded
// in the report. Only a failed connection or a canceled ctx is returned.
func (p *Popup) Activate(ctx context.Context) (*Report, error) {
	if p.port != nil {
		return nil, fmt.Errorf("popup %s already activated", p.id)
	}

	pt, err := p.hub.Connect(ctx, p.id, types.BackgroundID(), PopupPortName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to background: %w", err)
	}
	p.port = pt
	pt.OnMessage(func(_ *port.Port, env types.Envelope) {
		if relay, ok := env.Payload.(types.Relay); ok {
			p.logger.Infof("Popup received %s relayed from %s", relay.Inner.Subject(), relay.Origin)
			return
		}
		p.logger.Infof("Popup received %s from %s", env.Subject, env.From)
	})

	report := &Report{}
	tab, found, err := p.reg.QueryActiveTab(ctx, types.CurrentWindow())
	if err != nil {
		return nil, fmt.Errorf("failed to query active tab: %w", err)
	}
	report.Tab, report.TabFound = tab, found
	if !found {
		p.logger.Warnf("No active tab in the current window")
	}

	greeting := types.NewEnvelope(types.ContextPopup, types.PortGreeting{Text: GreetingText, Tab: tab})
	if err := pt.Send(greeting); err != nil {
		return nil, fmt.Errorf("failed to post greeting: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reply, err := p.messenger.SendToTab(gctx, p.id, tab.ID, types.NewEnvelope(types.ContextPopup, types.DOMInfoRequest{}))
		if err != nil {
			if isCanceled(err) {
				return err
			}
			p.logger.Errorf("DOMInfo request to tab %d failed: %v", tab.ID, err)
			report.DOMInfoErr = err
			return nil
		}
		p.logger.Infof("Popup got DOMInfo reply: %v", reply)
		report.DOMInfo = reply
		return nil
	})
	g.Go(func() error {
		result, err := p.bridge.Scrape(gctx, tab.ID)
		if err != nil {
			if isCanceled(err) {
				return err
			}
			p.logger.Errorf("Could not scrape content page: %v", err)
			report.ScrapeErr = err
			return nil
		}
		p.logger.Debugf("Scraped %d bytes from tab %d", len(result.HTML), tab.ID)
		report.Scrape = result
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

// Close terminates the popup context. Its port is closed and the background
// sees one disconnect.
func (p *Popup) Close() error {
	if err := p.rt.Terminate(p.id); err != nil && !errors.Is(err, types.ErrContextNotRunning) {
		return err
	}
	return nil
}

func (p *Popup) onMessage(sender types.ContextID, env types.Envelope) (any, error) {
	p.logger.Infof("Popup received one-shot %s from %s", env.Subject, sender)
	return nil, nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
