// Package registry holds the host's table of open tabs.
//
// The messaging core only reads from it: QueryActiveTab, Get and Tabs return
// value snapshots that may be stale by the time they are used. Mutations
// (Open, Navigate, Activate, Close) belong to the host that owns tab state.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/entrhq/courier/pkg/types"
)

// DefaultWindowID is the window tabs open in when none is given.
const DefaultWindowID = 1

// DefaultMaxTabs bounds the number of tabs a registry tracks.
const DefaultMaxTabs = 256

// TabEventType describes a change to the tab table.
type TabEventType string

const (
	TabOpened    TabEventType = "opened"
	TabNavigated TabEventType = "navigated"
	TabActivated TabEventType = "activated"
	TabClosed    TabEventType = "closed"
)

// TabEvent is delivered to subscribers after the table changed.
type TabEvent struct {
	Type TabEventType
	Tab  types.TabDescriptor
}

// TabSpec describes a tab to open. A zero ID asks the registry to allocate one
// and a zero WindowID means the focused window.
type TabSpec struct {
	ID       int
	URL      string
	WindowID int
	Active   bool
}

type tabRecord struct {
	desc       types.TabDescriptor
	generation uint64
}

// Registry is the process-wide tab table. It is passed explicitly to the
// components that need it; there is no global instance.
type Registry struct {
	mu            sync.RWMutex
	tabs          map[int]*tabRecord
	nextID        int
	focusedWindow int
	maxTabs       int

	subMu       sync.Mutex
	subscribers map[int]func(TabEvent)
	nextSub     int
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxTabs sets the maximum number of tabs.
func WithMaxTabs(max int) Option {
	return func(r *Registry) {
		r.maxTabs = max
	}
}

// New creates an empty registry focused on DefaultWindowID.
func New(opts ...Option) *Registry {
	r := &Registry{
		tabs:          make(map[int]*tabRecord),
		nextID:        1,
		focusedWindow: DefaultWindowID,
		maxTabs:       DefaultMaxTabs,
		subscribers:   make(map[int]func(TabEvent)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open adds a tab and returns its snapshot.
func (r *Registry) Open(spec TabSpec) (types.TabDescriptor, error) {
	r.mu.Lock()

	if len(r.tabs) >= r.maxTabs {
		r.mu.Unlock()
		return types.TabDescriptor{}, fmt.Errorf("maximum number of tabs (%d) reached", r.maxTabs)
	}

	id := spec.ID
	if id == 0 {
		for r.tabs[r.nextID] != nil {
			r.nextID++
		}
		id = r.nextID
		r.nextID++
	} else if id < 0 {
		r.mu.Unlock()
		return types.TabDescriptor{}, fmt.Errorf("invalid tab id %d", id)
	} else if _, exists := r.tabs[id]; exists {
		r.mu.Unlock()
		return types.TabDescriptor{}, fmt.Errorf("tab %d already exists", id)
	}

	windowID := spec.WindowID
	if windowID == 0 {
		windowID = r.focusedWindow
	}

	rec := &tabRecord{
		desc: types.TabDescriptor{
			ID:       id,
			URL:      spec.URL,
			WindowID: windowID,
		},
		generation: 1,
	}
	r.tabs[id] = rec

	// The first tab in a window is active whether asked or not.
	if spec.Active || !r.windowHasActiveLocked(windowID, id) {
		r.activateLocked(rec)
	}
	desc := rec.desc
	r.mu.Unlock()

	r.publish(TabEvent{Type: TabOpened, Tab: desc})
	return desc, nil
}

// Activate makes a tab the active tab of its window.
func (r *Registry) Activate(id int) error {
	r.mu.Lock()
	rec, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("tab %d: %w", id, types.ErrTabNotFound)
	}
	r.activateLocked(rec)
	desc := rec.desc
	r.mu.Unlock()

	r.publish(TabEvent{Type: TabActivated, Tab: desc})
	return nil
}

// Navigate points a tab at a new URL. Anything in flight against the previous
// document observes a new generation.
func (r *Registry) Navigate(id int, url string) error {
	r.mu.Lock()
	rec, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("tab %d: %w", id, types.ErrTabNotFound)
	}
	rec.desc.URL = url
	rec.generation++
	desc := rec.desc
	r.mu.Unlock()

	r.publish(TabEvent{Type: TabNavigated, Tab: desc})
	return nil
}

// Close removes a tab. If it was active, the lowest remaining tab of the same
// window becomes active.
func (r *Registry) Close(id int) error {
	r.mu.Lock()
	rec, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("tab %d: %w", id, types.ErrTabNotFound)
	}
	delete(r.tabs, id)

	var activated *types.TabDescriptor
	if rec.desc.Active {
		if next := r.lowestInWindowLocked(rec.desc.WindowID); next != nil {
			r.activateLocked(next)
			d := next.desc
			activated = &d
		}
	}
	closed := rec.desc
	closed.Active = false
	r.mu.Unlock()

	r.publish(TabEvent{Type: TabClosed, Tab: closed})
	if activated != nil {
		r.publish(TabEvent{Type: TabActivated, Tab: *activated})
	}
	return nil
}

// FocusWindow changes which window CurrentWindow queries resolve to.
func (r *Registry) FocusWindow(windowID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focusedWindow = windowID
}

// QueryActiveTab returns the active tab of the scoped window. The boolean is
// false when the window has no tabs.
func (r *Registry) QueryActiveTab(ctx context.Context, scope types.WindowScope) (types.TabDescriptor, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.TabDescriptor{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	windowID := scope.WindowID
	if scope.IsCurrent() {
		windowID = r.focusedWindow
	}
	for _, rec := range r.tabs {
		if rec.desc.WindowID == windowID && rec.desc.Active {
			return rec.desc, true, nil
		}
	}
	return types.TabDescriptor{}, false, nil
}

// Get returns a snapshot of one tab.
func (r *Registry) Get(ctx context.Context, id int) (types.TabDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return types.TabDescriptor{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tabs[id]
	if !ok {
		return types.TabDescriptor{}, fmt.Errorf("tab %d: %w", id, types.ErrTabNotFound)
	}
	return rec.desc, nil
}

// Generation returns the navigation generation of a tab.
func (r *Registry) Generation(id int) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tabs[id]
	if !ok {
		return 0, false
	}
	return rec.generation, true
}

// Tabs returns snapshots of every tab ordered by ID.
func (r *Registry) Tabs(ctx context.Context) ([]types.TabDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.TabDescriptor, 0, len(r.tabs))
	for _, rec := range r.tabs {
		out = append(out, rec.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Subscribe registers fn for tab events and returns a function that removes
// it. fn runs synchronously on the goroutine that changed the table.
func (r *Registry) Subscribe(fn func(TabEvent)) func() {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subscribers, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) publish(ev TabEvent) {
	r.subMu.Lock()
	ids := make([]int, 0, len(r.subscribers))
	for id := range r.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(TabEvent), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, r.subscribers[id])
	}
	r.subMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (r *Registry) activateLocked(rec *tabRecord) {
	for _, other := range r.tabs {
		if other.desc.WindowID == rec.desc.WindowID {
			other.desc.Active = false
		}
	}
	rec.desc.Active = true
}

func (r *Registry) windowHasActiveLocked(windowID, except int) bool {
	for id, rec := range r.tabs {
		if id != except && rec.desc.WindowID == windowID && rec.desc.Active {
			return true
		}
	}
	return false
}

func (r *Registry) lowestInWindowLocked(windowID int) *tabRecord {
	var best *tabRecord
	for _, rec := range r.tabs {
		if rec.desc.WindowID != windowID {
			continue
		}
		if best == nil || rec.desc.ID < best.desc.ID {
			best = rec
		}
	}
	return best
}
