// Package extension wires the messaging core into the three roles of a
// browser extension: the background hub, the popup and one content script
// per tab.
package extension

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/courier/pkg/bridge"
	"github.com/entrhq/courier/pkg/config"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/messenger"
	"github.com/entrhq/courier/pkg/port"
	"github.com/entrhq/courier/pkg/registry"
	"github.com/entrhq/courier/pkg/runtime"
	"github.com/entrhq/courier/pkg/types"
	"github.com/google/uuid"
)

// Follower is implemented by page hosts that track the tab table.
type Follower interface {
	Follow(reg *registry.Registry) func()
}

// Options configures an Extension.
type Options struct {
	// Config defaults to config.DefaultConfig().
	Config *config.Config

	// Host runs remote operations. Required.
	Host bridge.PageHost

	// Logger defaults to a discarding logger.
	Logger *logging.Logger

	// Emitter receives transport events in addition to the logger.
	Emitter types.EventEmitter
}

// Extension is a running extension: the tab registry, the context runtime
// and the transports shared by every role.
type Extension struct {
	Registry   *registry.Registry
	Runtime    *runtime.Runtime
	Hub        *port.Hub
	Messenger  *messenger.Messenger
	Bridge     *bridge.Bridge
	Background *Background

	logger *logging.Logger

	mu             sync.Mutex
	contentScripts map[int]*ContentScript
	unsubscribe    []func()
}

// New starts an extension with a running background context. Content
// scripts are started whenever a tab opens or navigates.
func New(opts Options) (*Extension, error) {
	if opts.Host == nil {
		return nil, fmt.Errorf("page host is required")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	emit := events(logger, opts.Emitter)

	policy, err := bridge.NewOriginPolicy(cfg.Bridge.AllowedOrigins, cfg.Bridge.RestrictedOrigins)
	if err != nil {
		return nil, fmt.Errorf("invalid origin policy: %w", err)
	}

	reg := registry.New(registry.WithMaxTabs(cfg.Registry.MaxTabs))
	rt := runtime.New(reg,
		runtime.WithLogger(logger.Named("runtime")),
		runtime.WithEmitter(emit),
	)

	e := &Extension{
		Registry: reg,
		Runtime:  rt,
		Hub: port.NewHub(rt,
			port.WithEmitter(emit),
			port.WithMaxPerContext(cfg.Ports.MaxPerContext),
		),
		Messenger: messenger.New(rt,
			messenger.WithReplyTimeout(cfg.Messaging.ReplyTimeout),
			messenger.WithEmitter(emit),
			messenger.WithLogger(logger.Named("messenger")),
		),
		Bridge: bridge.New(reg, opts.Host,
			bridge.WithTimeout(cfg.Bridge.Timeout),
			bridge.WithPolicy(policy),
			bridge.WithAllFrames(cfg.Bridge.AllFrames),
			bridge.WithEmitter(emit),
			bridge.WithLogger(logger.Named("bridge")),
		),
		logger:         logger,
		contentScripts: make(map[int]*ContentScript),
	}

	if _, err := rt.Spawn(types.BackgroundID()); err != nil {
		return nil, fmt.Errorf("failed to start background: %w", err)
	}
	e.Background = NewBackground(e.Hub, logger.Named("background"))
	if err := e.Background.Start(); err != nil {
		_ = rt.Shutdown(context.Background())
		return nil, err
	}

	e.unsubscribe = append(e.unsubscribe, reg.Subscribe(e.onTabEvent))
	if f, ok := opts.Host.(Follower); ok {
		e.unsubscribe = append(e.unsubscribe, f.Follow(reg))
	}
	return e, nil
}

// OpenPopup spawns a new popup context with its one-shot listener
// registered. Call Activate to run the popup flow and Close when done.
func (e *Extension) OpenPopup() (*Popup, error) {
	id := types.PopupID(uuid.New().String())
	if _, err := e.Runtime.Spawn(id); err != nil {
		return nil, fmt.Errorf("failed to open popup: %w", err)
	}

	p := &Popup{
		id:        id,
		rt:        e.Runtime,
		reg:       e.Registry,
		hub:       e.Hub,
		messenger: e.Messenger,
		bridge:    e.Bridge,
		logger:    e.logger.Named("popup"),
	}
	match := func(types.ContextKind, types.Subject) bool { return true }
	if err := e.Messenger.HandleFunc(id, match, p.onMessage); err != nil {
		_ = e.Runtime.Terminate(id)
		return nil, fmt.Errorf("failed to register popup listener: %w", err)
	}
	return p, nil
}

// ContentScript returns the content script currently running in a tab.
func (e *Extension) ContentScript(tabID int) (*ContentScript, bool) {
	if _, running := e.Runtime.Lookup(types.ContentScriptID(tabID)); !running {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.contentScripts[tabID]
	return cs, ok
}

// Shutdown stops following the registry and terminates every context.
func (e *Extension) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	return e.Runtime.Shutdown(ctx)
}

// onTabEvent runs after the runtime has already terminated the content script
// of a closed or navigated tab.
func (e *Extension) onTabEvent(ev registry.TabEvent) {
	switch ev.Type {
	case registry.TabOpened, registry.TabNavigated:
		cs, err := startContentScript(e.Runtime, e.Messenger, ev.Tab.ID, e.logger.Named("content_script"))
		if err != nil {
			e.logger.Errorf("%v", err)
			return
		}
		e.mu.Lock()
		e.contentScripts[ev.Tab.ID] = cs
		e.mu.Unlock()
	case registry.TabClosed:
		e.mu.Lock()
		delete(e.contentScripts, ev.Tab.ID)
		e.mu.Unlock()
	}
}

// events sends every transport event to the logger and then to extra.
func events(logger *logging.Logger, extra types.EventEmitter) types.EventEmitter {
	return func(ev *types.TransportEvent) {
		logger.LogEvent(ev)
		extra.Emit(ev)
	}
}
