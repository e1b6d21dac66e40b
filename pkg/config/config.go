// Package config holds the tunables of the messaging layer, the bridge and
// the browser host. Configuration is read from a YAML file; anything the
// file leaves out keeps its default.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Config represents the courier configuration
type Config struct {
	// One-shot messages
	Messaging MessagingConfig `yaml:"messaging" json:"messaging"`

	// Port channels
	Ports PortsConfig `yaml:"ports" json:"ports"`

	// Remote execution
	Bridge BridgeConfig `yaml:"bridge" json:"bridge"`

	// Tab registry
	Registry RegistryConfig `yaml:"registry" json:"registry"`

	// Playwright page host
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// MessagingConfig configures one-shot messages
type MessagingConfig struct {
	ReplyTimeout time.Duration `yaml:"reply_timeout" json:"reply_timeout"`
}

// PortsConfig configures port channels
type PortsConfig struct {
	// MaxPerContext limits open ports per context; 0 means no limit
	MaxPerContext int `yaml:"max_per_context" json:"max_per_context"`
}

// BridgeConfig configures remote execution
type BridgeConfig struct {
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	AllowedOrigins    []string      `yaml:"allowed_origins" json:"allowed_origins"`
	RestrictedOrigins []string      `yaml:"restricted_origins" json:"restricted_origins"`
	AllFrames         bool          `yaml:"all_frames" json:"all_frames"`
}

// RegistryConfig configures the tab registry
type RegistryConfig struct {
	MaxTabs int `yaml:"max_tabs" json:"max_tabs"`
}

// BrowserConfig configures the Playwright page host
type BrowserConfig struct {
	Headless          bool          `yaml:"headless" json:"headless"`
	ViewportWidth     int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height" json:"viewport_height"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	MaxTabs           int           `yaml:"max_tabs" json:"max_tabs"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`

	// Dir overrides the log directory (default ~/.courier/logs)
	Dir string `yaml:"dir" json:"dir"`
}

// DefaultConfig returns a default configuration suitable for most use cases
func DefaultConfig() *Config {
	return &Config{
		Messaging: MessagingConfig{
			ReplyTimeout: 30 * time.Second,
		},
		Ports: PortsConfig{
			MaxPerContext: 64,
		},
		Bridge: BridgeConfig{
			Timeout: 30 * time.Second,
			RestrictedOrigins: []string{
				"chrome://*",
				"chrome-extension://*",
				"devtools://*",
				"view-source:*",
				"https://chrome.google.com/webstore/*",
			},
		},
		Registry: RegistryConfig{
			MaxTabs: 256,
		},
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    720,
			NavigationTimeout: 30 * time.Second,
			MaxTabs:           16,
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Messaging.ReplyTimeout <= 0 {
		return fmt.Errorf("messaging.reply_timeout must be positive")
	}

	if c.Ports.MaxPerContext < 0 {
		return fmt.Errorf("ports.max_per_context cannot be negative")
	}

	if c.Bridge.Timeout <= 0 {
		return fmt.Errorf("bridge.timeout must be positive")
	}

	for _, pattern := range c.Bridge.AllowedOrigins {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid bridge.allowed_origins pattern '%s': %w", pattern, err)
		}
	}
	for _, pattern := range c.Bridge.RestrictedOrigins {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid bridge.restricted_origins pattern '%s': %w", pattern, err)
		}
	}

	if c.Registry.MaxTabs <= 0 {
		return fmt.Errorf("registry.max_tabs must be positive")
	}

	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("browser viewport cannot be negative")
	}
	if c.Browser.NavigationTimeout < 0 {
		return fmt.Errorf("browser.navigation_timeout cannot be negative")
	}
	if c.Browser.MaxTabs < 0 {
		return fmt.Errorf("browser.max_tabs cannot be negative")
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}

	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	return nil
}

// Load reads configuration from a YAML file over the defaults and validates
// it. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}
