package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/entrhq/courier/pkg/extension"
	"github.com/entrhq/courier/pkg/page"
	"github.com/entrhq/courier/pkg/registry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultDemoPage = `<html><head><title>Example Domain</title></head>` +
	`<body><h1>Example Domain</h1><p>This domain is for use in examples.</p></body></html>`

var (
	demoURL   string
	demoTabID int
)

var demoCmd = &cobra.Command{
	Use:   "demo [html-file]",
	Short: "Run the popup flow against an in-memory page",
	Long: `Loads a page into an in-memory tab, then activates a popup: it connects
to the background, asks the tab's content script for DOM info and scrapes the
page. Without a file a small example page is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&demoURL, "url", "https://example.com", "URL the page is loaded under")
	demoCmd.Flags().IntVar(&demoTabID, "tab", 7, "Tab ID of the page")
}

func runDemo(cmd *cobra.Command, args []string) error {
	markup := io.Reader(strings.NewReader(defaultDemoPage))
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open page: %w", err)
		}
		defer f.Close()
		markup = f
	}

	host := page.NewHost()
	if err := host.LoadHTML(demoTabID, demoURL, markup); err != nil {
		return fmt.Errorf("failed to load page: %w", err)
	}

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

	if _, err := ext.Registry.Open(registry.TabSpec{ID: demoTabID, URL: demoURL, Active: true}); err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}

	popup, err := ext.OpenPopup()
	if err != nil {
		return err
	}
	defer func() { _ = popup.Close() }()

	report, err := popup.Activate(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if report.TabFound {
		fmt.Fprintf(out, "Active tab: %s\n", report.Tab)
	}
	if report.DOMInfoErr != nil {
		fmt.Fprintf(out, "DOMInfo failed: %v\n", report.DOMInfoErr)
	} else {
		fmt.Fprintf(out, "DOMInfo reply: %v\n", report.DOMInfo)
	}
	if report.ScrapeErr != nil {
		fmt.Fprintf(out, "Could not scrape content page: %v\n", report.ScrapeErr)
		return nil
	}
	fmt.Fprintf(out, "Scraped %d bytes:\n%s\n", len(report.Scrape.HTML), report.Scrape.HTML)
	return nil
}

func shutdown(ext *extension.Extension) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ext.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}
