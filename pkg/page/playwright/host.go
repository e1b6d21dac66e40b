// Package playwright is a PageHost backed by a real Chromium instance driven
// through playwright-go. Every tab is a page of one browser context; bridge
// operations run as fixed scripts in the page's frames.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/courier/pkg/bridge"
	"github.com/entrhq/courier/pkg/registry"
	"github.com/entrhq/courier/pkg/types"
	"github.com/playwright-community/playwright-go"
)

const (
	// DefaultViewportWidth is the default browser viewport width
	DefaultViewportWidth = 1280
	// DefaultViewportHeight is the default browser viewport height
	DefaultViewportHeight = 720
	// DefaultNavigationTimeout bounds page loads
	DefaultNavigationTimeout = 30 * time.Second
	// DefaultMaxTabs bounds the pages one host keeps open
	DefaultMaxTabs = 16
)

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Options configures the browser.
type Options struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the page size; zero means the defaults
	Viewport Viewport

	// NavigationTimeout bounds Goto and SetContent
	NavigationTimeout time.Duration

	// MaxTabs bounds the number of open pages
	MaxTabs int
}

// TabInfo describes an open page.
type TabInfo struct {
	TabID      int
	CurrentURL string
	OpenedAt   time.Time
	LastUsedAt time.Time
}

type tabPage struct {
	page       playwright.Page
	openedAt   time.Time
	lastUsedAt time.Time
}

// Host manages one browser and the pages standing in for tabs.
type Host struct {
	mu          sync.RWMutex
	opts        Options
	playwright  *playwright.Playwright
	browser     playwright.Browser
	context     playwright.BrowserContext
	tabs        map[int]*tabPage
	initialized bool
}

// New creates a host. Call Initialize before opening tabs.
func New(opts Options) *Host {
	if opts.Viewport.Width == 0 || opts.Viewport.Height == 0 {
		opts.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if opts.NavigationTimeout == 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	if opts.MaxTabs == 0 {
		opts.MaxTabs = DefaultMaxTabs
	}
	return &Host{
		opts: opts,
		tabs: make(map[int]*tabPage),
	}
}

// Initialize installs and starts Playwright and launches Chromium.
func (h *Host) Initialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initialized {
		return nil
	}

	// Keep the driver quiet; output would interleave with the CLI's own
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &h.opts.Headless,
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  h.opts.Viewport.Width,
			Height: h.opts.Viewport.Height,
		},
	})
	if err != nil {
		browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("failed to create context: %w", err)
	}

	h.playwright = pw
	h.browser = browser
	h.context = browserContext
	h.initialized = true
	return nil
}

// OpenTab creates a page for a tab and loads url in it.
func (h *Host) OpenTab(tabID int, url string) error {
	page, err := h.newPage(tabID)
	if err != nil {
		return err
	}
	timeout := float64(h.opts.NavigationTimeout.Milliseconds())
	if _, err := page.Goto(url, playwright.PageGotoOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// SetContent creates a page for a tab, if needed, and replaces its document
// with markup.
func (h *Host) SetContent(tabID int, markup string) error {
	h.mu.RLock()
	tp, ok := h.tabs[tabID]
	h.mu.RUnlock()

	var page playwright.Page
	if ok {
		page = tp.page
	} else {
		var err error
		if page, err = h.newPage(tabID); err != nil {
			return err
		}
	}

	timeout := float64(h.opts.NavigationTimeout.Milliseconds())
	if err := page.SetContent(markup, playwright.PageSetContentOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to set content: %w", err)
	}
	return nil
}

func (h *Host) newPage(tabID int) (playwright.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return nil, fmt.Errorf("browser host not initialized")
	}
	if _, exists := h.tabs[tabID]; exists {
		return nil, fmt.Errorf("tab %d already has a page", tabID)
	}
	if len(h.tabs) >= h.opts.MaxTabs {
		return nil, fmt.Errorf("maximum number of tabs (%d) reached", h.opts.MaxTabs)
	}

	page, err := h.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(h.opts.NavigationTimeout.Milliseconds()))

	now := time.Now()
	h.tabs[tabID] = &tabPage{page: page, openedAt: now, lastUsedAt: now}
	return page, nil
}

// CloseTab closes a tab's page.
func (h *Host) CloseTab(tabID int) error {
	h.mu.Lock()
	tp, ok := h.tabs[tabID]
	delete(h.tabs, tabID)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("tab %d: %w", tabID, types.ErrTabNotFound)
	}
	return tp.page.Close()
}

// Tabs lists the open pages ordered by tab ID.
func (h *Host) Tabs() []TabInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]TabInfo, 0, len(h.tabs))
	for id, tp := range h.tabs {
		infos = append(infos, TabInfo{
			TabID:      id,
			CurrentURL: tp.page.URL(),
			OpenedAt:   tp.openedAt,
			LastUsedAt: tp.lastUsedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].TabID < infos[j].TabID })
	return infos
}

// Follow closes the page of every tab closed in reg.
func (h *Host) Follow(reg *registry.Registry) func() {
	return reg.Subscribe(func(ev registry.TabEvent) {
		if ev.Type == registry.TabClosed {
			_ = h.CloseTab(ev.Tab.ID)
		}
	})
}

// Execute runs op in the tab's page. Playwright calls are not cancellable, so
// when ctx ends first the evaluation is abandoned and finishes on its own.
func (h *Host) Execute(ctx context.Context, tab types.TabDescriptor, op bridge.Operation, allFrames bool) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expression, args, err := scriptFor(op)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	tp, ok := h.tabs[tab.ID]
	if ok {
		tp.lastUsedAt = time.Now()
	}
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no page open for tab %d: %w", tab.ID, types.ErrTabNotFound)
	}

	type outcome struct {
		values []any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		values, err := evaluate(tp.page, expression, args, allFrames)
		done <- outcome{values, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return nil, translateError(tab.ID, out.err)
		}
		return out.values, nil
	}
}

func evaluate(page playwright.Page, expression string, args []any, allFrames bool) ([]any, error) {
	frames := []playwright.Frame{page.MainFrame()}
	if allFrames {
		frames = page.Frames()
	}

	values := make([]any, 0, len(frames))
	for _, frame := range frames {
		v, err := frame.Evaluate(expression, args...)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func translateError(tabID int, err error) error {
	switch {
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("page of tab %d closed: %v: %w", tabID, err, types.ErrTabNotFound)
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("tab %d: %v: %w", tabID, err, types.ErrTimeout)
	}
	return fmt.Errorf("JavaScript execution failed in tab %d: %w", tabID, err)
}

// Shutdown closes every page and the browser and stops Playwright.
func (h *Host) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for id, tp := range h.tabs {
		if err := tp.page.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(h.tabs, id)
	}

	if h.initialized {
		if err := h.context.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := h.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := h.playwright.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		h.initialized = false
	}
	return errors.Join(errs...)
}
