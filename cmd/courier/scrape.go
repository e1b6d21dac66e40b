package main

import (
	"encoding/json"
	"fmt"

	"github.com/entrhq/courier/pkg/bridge"
	"github.com/entrhq/courier/pkg/extension"
	"github.com/entrhq/courier/pkg/page/playwright"
	"github.com/entrhq/courier/pkg/registry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// scrapeTabID is the tab the live page is opened in.
const scrapeTabID = 1

var (
	scrapeOp        string
	scrapeSelector  string
	scrapeAllFrames bool
	scrapeHeaded    bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [url]",
	Short: "Run a remote operation against a live page",
	Long: `Opens url in Chromium and runs one operation in the page through the
remote execution bridge. Results are printed as JSON, one entry per frame.

Operations: scrape, title, url, text, count (needs --selector).`,
	Args: cobra.ExactArgs(1),
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeOp, "op", "scrape", "Operation to run")
	scrapeCmd.Flags().StringVar(&scrapeSelector, "selector", "", "CSS selector for the count operation")
	scrapeCmd.Flags().BoolVar(&scrapeAllFrames, "all-frames", false, "Run the operation in every frame")
	scrapeCmd.Flags().BoolVar(&scrapeHeaded, "headed", false, "Show the browser window")
}

func runScrape(cmd *cobra.Command, args []string) error {
	url := args[0]
	op, err := bridge.ParseOperation(scrapeOp, scrapeSelector)
	if err != nil {
		return err
	}

	host := playwright.New(playwright.Options{
		Headless: cfg.Browser.Headless && !scrapeHeaded,
		Viewport: playwright.Viewport{
			Width:  cfg.Browser.ViewportWidth,
			Height: cfg.Browser.ViewportHeight,
		},
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		MaxTabs:           cfg.Browser.MaxTabs,
	})
	logger.Info("starting browser", zap.Bool("headless", cfg.Browser.Headless && !scrapeHeaded))
	if err := host.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := host.Shutdown(); err != nil {
			logger.Warn("browser shutdown failed", zap.Error(err))
		}
	}()

	ext, err := extension.New(extension.Options{
		Config:  cfg,
		Host:    host,
		Logger:  courierLg,
		Emitter: zapEvents(logger),
	})
	if err != nil {
		return err
	}
	defer shutdown(ext)

	if err := host.OpenTab(scrapeTabID, url); err != nil {
		return err
	}
	if _, err := ext.Registry.Open(registry.TabSpec{ID: scrapeTabID, URL: url, Active: true}); err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}

	results, err := ext.Bridge.ExecuteInTab(cmd.Context(), scrapeTabID, op, bridge.ExecOptions{AllFrames: scrapeAllFrames})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
