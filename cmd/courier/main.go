// Package main provides the courier CLI. It drives the extension messaging
// core against an in-memory page or a live browser.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/courier/pkg/config"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.1.0"

var (
	// Global flags
	configFile string
	verbose    bool

	// Set up by the root command before any subcommand runs
	cfg       *config.Config
	logger    *zap.Logger
	courierLg *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:     "courier",
	Short:   "Cross-context messaging for browser extensions",
	Version: version,
	Long: `courier runs the background, popup and content script contexts of a
browser extension in one process and exchanges messages between them.

Use "demo" to run the popup flow against a local HTML file and "scrape" to run
a remote operation against a live page in Chromium.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}

		zapConfig := zap.NewProductionConfig()
		zapConfig.Encoding = "console"
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if cfg.Logging.Dir != "" {
			logging.SetLogDirectory(cfg.Logging.Dir)
		}
		// On failure NewLogger hands back a stderr logger; keep going with it.
		courierLg, err = logging.NewLogger("courier")
		if err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		level, err := logging.ParseVerbosity(cfg.Logging.Verbosity)
		if err != nil {
			return err
		}
		if verbose {
			level = logging.LevelDebug
		}
		courierLg.SetLevel(level)
		logger.Debug("courier started",
			zap.String("session", courierLg.SessionID()),
			zap.String("log_file", courierLg.LogPath()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if courierLg != nil {
			_ = courierLg.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(demoCmd, scrapeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// zapEvents reports transport events through the CLI logger.
func zapEvents(l *zap.Logger) types.EventEmitter {
	return func(ev *types.TransportEvent) {
		fields := []zap.Field{zap.String("type", string(ev.Type))}
		if ev.Context.Kind != "" {
			fields = append(fields, zap.Stringer("context", ev.Context))
		}
		if ev.Peer.Kind != "" {
			fields = append(fields, zap.Stringer("peer", ev.Peer))
		}
		if ev.PortName != "" {
			fields = append(fields, zap.String("port", ev.PortName), zap.String("port_id", ev.PortID))
		}
		if ev.Subject != "" {
			fields = append(fields, zap.String("subject", string(ev.Subject)))
		}
		if ev.Operation != "" {
			fields = append(fields, zap.Int("tab", ev.TabID), zap.String("operation", ev.Operation))
		}
		if ev.Error != nil {
			l.Warn("transport event", append(fields, zap.Error(ev.Error))...)
			return
		}
		l.Debug("transport event", fields...)
	}
}
