package playwright

import (
	"context"
	"testing"

	"github.com/entrhq/courier/pkg/bridge"
	"github.com/entrhq/courier/pkg/registry"
	"github.com/entrhq/courier/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	h := New(Options{Headless: true})
	assert.Equal(t, Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}, h.opts.Viewport)
	assert.Equal(t, DefaultNavigationTimeout, h.opts.NavigationTimeout)
	assert.Equal(t, DefaultMaxTabs, h.opts.MaxTabs)
	assert.Empty(t, h.Tabs())
}

func TestScriptFor(t *testing.T) {
	tests := []struct {
		op       bridge.Operation
		wantExpr string
		wantArgs []any
	}{
		{op: bridge.ScrapeOuterHTML{}, wantExpr: scrapeOuterHTMLScript},
		{op: bridge.ReadTitle{}, wantExpr: readTitleScript},
		{op: bridge.ReadURL{}, wantExpr: readURLScript},
		{op: bridge.ReadText{}, wantExpr: readTextScript},
		{op: bridge.CountElements{Selector: "a"}, wantExpr: countElementsScript, wantArgs: []any{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.op.Name(), func(t *testing.T) {
			expr, args, err := scriptFor(tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.wantExpr, expr)
			assert.Equal(t, tt.wantArgs, args)
		})
	}

	_, _, err := scriptFor(nil)
	assert.Error(t, err)
}

func TestExecute_WithoutPage(t *testing.T) {
	h := New(Options{Headless: true})

	_, err := h.Execute(context.Background(), types.TabDescriptor{ID: 7}, bridge.ReadTitle{}, false)
	assert.ErrorIs(t, err, types.ErrTabNotFound)
	assert.ErrorIs(t, h.CloseTab(7), types.ErrTabNotFound)
	assert.ErrorContains(t, h.OpenTab(7, "about:blank"), "not initialized")
	assert.NoError(t, h.Shutdown())
}

func TestHost_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	h := New(Options{Headless: true})
	require.NoError(t, h.Initialize())
	defer h.Shutdown()

	reg := registry.New()
	_, err := reg.Open(registry.TabSpec{ID: 7, URL: "https://example.com", Active: true})
	require.NoError(t, err)
	stop := h.Follow(reg)
	defer stop()

	require.NoError(t, h.SetContent(7, `<html><head><title>Example</title></head><body><p>one</p><p>two</p><iframe srcdoc="<p>inner</p>"></iframe></body></html>`))
	b := bridge.New(reg, h)
	ctx := context.Background()

	title, err := b.ExecuteInTab(ctx, 7, bridge.ReadTitle{}, bridge.ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, []types.FrameResult{{FrameID: 0, Value: "Example"}}, title)

	counts, err := b.ExecuteInTab(ctx, 7, bridge.CountElements{Selector: "p"}, bridge.ExecOptions{AllFrames: true})
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, float64(2), counts[0].Value)
	assert.Equal(t, float64(1), counts[1].Value)

	scraped, err := b.Scrape(ctx, 7)
	require.NoError(t, err)
	assert.Contains(t, scraped.HTML, "<title>Example</title>")

	require.NoError(t, reg.Close(7))
	assert.Empty(t, h.Tabs())
}
