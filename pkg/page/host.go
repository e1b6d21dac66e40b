package page

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/entrhq/courier/pkg/bridge"
	"github.com/entrhq/courier/pkg/registry"
	"github.com/entrhq/courier/pkg/types"
)

// Host keeps one document per tab and runs bridge operations against it.
type Host struct {
	mu      sync.RWMutex
	pages   map[int]*Document
	blocked map[int]string
}

// NewHost creates an empty host.
func NewHost() *Host {
	return &Host{
		pages:   make(map[int]*Document),
		blocked: make(map[int]string),
	}
}

// Load shows a document in a tab, replacing what the tab showed before.
func (h *Host) Load(tabID int, doc *Document) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pages[tabID] = doc
	delete(h.blocked, tabID)
}

// LoadHTML parses markup and shows it in a tab.
func (h *Host) LoadHTML(tabID int, url string, r io.Reader) error {
	doc, err := Parse(url, r)
	if err != nil {
		return err
	}
	h.Load(tabID, doc)
	return nil
}

// Block makes the tab refuse operations, as error and interstitial pages do.
func (h *Host) Block(tabID int, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocked[tabID] = reason
}

// Unload forgets the tab's document.
func (h *Host) Unload(tabID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pages, tabID)
	delete(h.blocked, tabID)
}

// Follow unloads documents of tabs closed in reg. It returns a function that
// stops following.
func (h *Host) Follow(reg *registry.Registry) func() {
	return reg.Subscribe(func(ev registry.TabEvent) {
		if ev.Type == registry.TabClosed {
			h.Unload(ev.Tab.ID)
		}
	})
}

// Execute runs op in the tab's top frame, or in every frame.
func (h *Host) Execute(ctx context.Context, tab types.TabDescriptor, op bridge.Operation, allFrames bool) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.RLock()
	doc, ok := h.pages[tab.ID]
	reason, blocked := h.blocked[tab.ID]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no document loaded in tab %d: %w", tab.ID, types.ErrTabNotFound)
	}
	if blocked {
		return nil, fmt.Errorf("tab %d: %s: %w", tab.ID, reason, types.ErrInjectionDenied)
	}

	frames := doc.frames
	if !allFrames {
		frames = frames[:1]
	}

	results := make([]any, 0, len(frames))
	for _, frame := range frames {
		v, err := run(frame, op)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

func run(frame Frame, op bridge.Operation) (any, error) {
	sel := goquery.NewDocumentFromNode(frame.Doc)

	switch o := op.(type) {
	case bridge.ScrapeOuterHTML:
		root := sel.Find("html").First()
		if root.Length() == 0 {
			return nil, nil
		}
		return goquery.OuterHtml(root)

	case bridge.ReadTitle:
		return extractTitle(frame.Doc), nil

	case bridge.ReadURL:
		return frame.URL, nil

	case bridge.ReadText:
		body := sel.Find("body").First()
		if body.Length() == 0 {
			return "", nil
		}
		return extractText(body.Get(0)), nil

	case bridge.CountElements:
		matcher, err := cascadia.Compile(o.Selector)
		if err != nil {
			return nil, fmt.Errorf("invalid selector %q: %w", o.Selector, err)
		}
		return sel.FindMatcher(matcher).Length(), nil
	}
	return nil, fmt.Errorf("unsupported operation %T", op)
}
