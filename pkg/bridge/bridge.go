// Package bridge runs named operations inside the pages of tabs and brings
// their results back.
//
// The bridge resolves the tab through the registry, checks the tab's URL
// against the origin policy, asks a PageHost to run the operation in the
// page (optionally in every frame) and structured-clones each frame's result.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/courier/pkg/clone"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/registry"
	"github.com/entrhq/courier/pkg/types"
)

// DefaultTimeout bounds a single ExecuteInTab call.
const DefaultTimeout = 30 * time.Second

// PageHost runs operations inside pages. It returns one raw value per frame,
// the top frame first. Hosts report a page that no longer exists with
// types.ErrTabNotFound and a page that refuses operations with
// types.ErrInjectionDenied, and must honor ctx.
type PageHost interface {
	Execute(ctx context.Context, tab types.TabDescriptor, op Operation, allFrames bool) ([]any, error)
}

// ExecOptions tune a single execution.
type ExecOptions struct {
	// AllFrames runs the operation in every frame instead of the top one.
	AllFrames bool
}

// Bridge executes operations in tabs.
type Bridge struct {
	registry  *registry.Registry
	host      PageHost
	policy    *OriginPolicy
	timeout   time.Duration
	allFrames bool
	emit      types.EventEmitter
	logger    *logging.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout bounds each execution.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = d
	}
}

// WithPolicy sets the origin policy.
func WithPolicy(p *OriginPolicy) Option {
	return func(b *Bridge) {
		b.policy = p
	}
}

// WithAllFrames makes Scrape look at every frame. Only the first result is
// used either way.
func WithAllFrames(all bool) Option {
	return func(b *Bridge) {
		b.allFrames = all
	}
}

// WithEmitter sets the sink for script events.
func WithEmitter(emit types.EventEmitter) Option {
	return func(b *Bridge) {
		b.emit = emit
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// New creates a bridge. Without WithPolicy, DefaultRestrictedOrigins apply.
func New(reg *registry.Registry, host PageHost, opts ...Option) *Bridge {
	b := &Bridge{
		registry: reg,
		host:     host,
		timeout:  DefaultTimeout,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.policy == nil {
		// The defaults are known to compile.
		b.policy, _ = NewOriginPolicy(nil, DefaultRestrictedOrigins)
	}
	return b
}

// ExecuteInTab runs op in the tab and returns one result per frame.
func (b *Bridge) ExecuteInTab(ctx context.Context, tabID int, op Operation, opts ExecOptions) ([]types.FrameResult, error) {
	results, err := b.execute(ctx, tabID, op, opts)
	if err != nil {
		name := "<nil>"
		if op != nil {
			name = op.Name()
		}
		b.logger.Debugf("%s in tab %d failed: %v", name, tabID, err)
		b.emit.Emit(types.NewScriptFailedEvent(tabID, name, err))
		return nil, err
	}
	b.emit.Emit(types.NewScriptExecutedEvent(tabID, op.Name(), len(results)))
	return results, nil
}

func (b *Bridge) execute(ctx context.Context, tabID int, op Operation, opts ExecOptions) ([]types.FrameResult, error) {
	if err := validateOperation(op); err != nil {
		return nil, err
	}

	tab, err := b.registry.Get(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if !b.policy.IsAllowed(tab.URL) {
		return nil, fmt.Errorf("%s in %s: restricted origin: %w", op.Name(), tab, types.ErrInjectionDenied)
	}

	execCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	raw, err := b.host.Execute(execCtx, tab, op, opts.AllFrames)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s in %s: no result within %s: %w", op.Name(), tab, b.timeout, types.ErrTimeout)
		}
		return nil, fmt.Errorf("%s in %s: %w", op.Name(), tab, err)
	}

	results := make([]types.FrameResult, 0, len(raw))
	for i, v := range raw {
		cloned, err := clone.Clone(v)
		if err != nil {
			return nil, fmt.Errorf("%s in %s, frame %d: %w", op.Name(), tab, i, err)
		}
		results = append(results, types.FrameResult{FrameID: i, Value: cloned})
	}
	return results, nil
}

// Scrape returns the outer HTML of a tab's page. The first frame's result is
// used; no result or a nil one is ErrNoResult and a non-string result is
// ErrSerialization.
func (b *Bridge) Scrape(ctx context.Context, tabID int) (types.ScrapeResult, error) {
	results, err := b.ExecuteInTab(ctx, tabID, ScrapeOuterHTML{}, ExecOptions{AllFrames: b.allFrames})
	if err != nil {
		if errors.Is(err, types.ErrTabNotFound) {
			return types.ScrapeResult{}, fmt.Errorf("can not get content page of undefined tab: %w", err)
		}
		return types.ScrapeResult{}, err
	}
	// An undefined result in the top frame counts as no result.
	if len(results) == 0 || results[0].Value == nil {
		return types.ScrapeResult{}, fmt.Errorf("could not scrape content page of tab %d: %w", tabID, types.ErrNoResult)
	}

	html, ok := results[0].Value.(string)
	if !ok {
		return types.ScrapeResult{}, fmt.Errorf("could not scrape content page of tab %d: got %T: %w",
			tabID, results[0].Value, types.ErrSerialization)
	}
	return types.ScrapeResult{HTML: html}, nil
}
