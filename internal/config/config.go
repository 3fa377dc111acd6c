// Package config provides configuration management for plugindev.
//
// Configuration is loaded from four sources with the following precedence
// (highest to lowest):
//  1. CLI flags
//  2. Environment variables (PLUGINDEV_ prefix)
//  3. A .env file in the working directory
//  4. Config file (.plugindev.yaml)
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/plugindev/internal/bundler"
)

// Supported log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Supported log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Supported bundler backends.
const (
	BundlerESBuild = "esbuild"
	BundlerExec    = "exec"
)

// Serve defaults.
const (
	DefaultProxyPort     = 2222
	DefaultBundlerPort   = 2221
	DefaultHost          = "127.0.0.1"
	DefaultFormat        = "esm"
	DefaultTarget        = "es2020"
	DefaultDebounce      = 300 * time.Millisecond
	DefaultTemplateCache = 256
)

// DefaultExtensions are the entry point suffixes scanned when none are given.
var DefaultExtensions = []string{".js", ".ts"}

// Config represents the global configuration for plugindev.
type Config struct {
	// LogLevel controls the verbosity of log output.
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"logLevel" yaml:"log-level"`

	// LogFormat controls the format of log output.
	// Valid values: text, json.
	LogFormat string `mapstructure:"log-format" json:"logFormat" yaml:"log-format"`

	// NoColor disables colored output.
	NoColor bool `mapstructure:"no-color" json:"noColor" yaml:"no-color"`

	// Quiet suppresses all log output below error level.
	Quiet bool `mapstructure:"quiet" json:"quiet" yaml:"quiet"`

	// Dir is the directory scanned for entry points, relative to the
	// working directory.
	Dir string `mapstructure:"dir" json:"dir" yaml:"dir"`

	// Ext lists the file suffixes treated as entry points.
	Ext []string `mapstructure:"ext" json:"ext" yaml:"ext"`

	// Host is the interface both servers bind to.
	Host string `mapstructure:"host" json:"host" yaml:"host"`

	// ProxyPort is the preferred public port.
	ProxyPort int `mapstructure:"proxy-port" json:"proxyPort" yaml:"proxy-port"`

	// BundlerPort is the preferred port of the internal bundler server.
	BundlerPort int `mapstructure:"bundler-port" json:"bundlerPort" yaml:"bundler-port"`

	// Format is the module format emitted by the bundler (esm, cjs, iife).
	Format string `mapstructure:"format" json:"format" yaml:"format"`

	// Target is the language level emitted by the bundler (e.g. es2020).
	Target string `mapstructure:"target" json:"target" yaml:"target"`

	// Bundler selects the backend: the embedded esbuild or an external
	// esbuild executable.
	Bundler string `mapstructure:"bundler" json:"bundler" yaml:"bundler"`

	// ESBuildPath is the executable used by the exec backend.
	ESBuildPath string `mapstructure:"esbuild-path" json:"esbuildPath" yaml:"esbuild-path"`

	// Rescan restarts the bundler when entry points are added or removed.
	Rescan bool `mapstructure:"rescan" json:"rescan" yaml:"rescan"`

	// Debounce is the quiet period before a rescan runs.
	Debounce time.Duration `mapstructure:"debounce" json:"debounce" yaml:"debounce"`

	// TemplateCache is the number of generated wrapper modules kept in memory.
	TemplateCache int `mapstructure:"template-cache" json:"templateCache" yaml:"template-cache"`

	// ConfigFile is the resolved path to the config file used.
	// Set after Load() — not read from config itself.
	ConfigFile string `mapstructure:"-" json:"-" yaml:"-"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:      LogLevelInfo,
		LogFormat:     LogFormatText,
		NoColor:       false,
		Quiet:         false,
		Dir:           ".",
		Ext:           append([]string(nil), DefaultExtensions...),
		Host:          DefaultHost,
		ProxyPort:     DefaultProxyPort,
		BundlerPort:   DefaultBundlerPort,
		Format:        DefaultFormat,
		Target:        DefaultTarget,
		Bundler:       BundlerESBuild,
		ESBuildPath:   "esbuild",
		Debounce:      DefaultDebounce,
		TemplateCache: DefaultTemplateCache,
	}
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		// valid
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.LogFormat)
	}

	switch c.Bundler {
	case BundlerESBuild, BundlerExec:
		// valid
	default:
		return fmt.Errorf("invalid bundler %q: must be one of esbuild, exec", c.Bundler)
	}

	if !slices.Contains(bundler.Formats, c.Format) {
		return fmt.Errorf("invalid format %q: must be one of %s", c.Format, strings.Join(bundler.Formats, ", "))
	}

	if !slices.Contains(bundler.Targets, c.Target) {
		return fmt.Errorf("invalid target %q: must be one of %s", c.Target, strings.Join(bundler.Targets, ", "))
	}

	if err := validatePort("proxy-port", c.ProxyPort); err != nil {
		return err
	}

	if err := validatePort("bundler-port", c.BundlerPort); err != nil {
		return err
	}

	if len(c.Ext) == 0 {
		return errors.New("invalid ext: at least one extension is required")
	}

	for _, ext := range c.Ext {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("invalid ext %q: must start with a dot", ext)
		}
	}

	if c.Debounce <= 0 {
		return fmt.Errorf("invalid debounce %s: must be positive", c.Debounce)
	}

	if c.TemplateCache <= 0 {
		return fmt.Errorf("invalid template-cache %d: must be positive", c.TemplateCache)
	}

	return nil
}

func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid %s %d: must be between 0 and 65535", name, port)
	}

	return nil
}

// EffectiveLogLevel returns the log level to use. When Quiet is true the log
// level is overridden to "error" regardless of the configured LogLevel.
func (c *Config) EffectiveLogLevel() string {
	if c.Quiet {
		return LogLevelError
	}

	return c.LogLevel
}

// Load initialises configuration from flags, environment variables, an
// optional .env file, and an optional config file. A fresh viper instance is
// used on every call so that Load is safe for concurrent tests.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store the resolved config file path so downstream code can locate it.
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv copies variables from a .env file into the process environment.
// Variables that are already set win. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("loading %s: %w", path, err)
	}

	return nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("no-color", d.NoColor)
	v.SetDefault("quiet", d.Quiet)
	v.SetDefault("dir", d.Dir)
	v.SetDefault("ext", d.Ext)
	v.SetDefault("host", d.Host)
	v.SetDefault("proxy-port", d.ProxyPort)
	v.SetDefault("bundler-port", d.BundlerPort)
	v.SetDefault("format", d.Format)
	v.SetDefault("target", d.Target)
	v.SetDefault("bundler", d.Bundler)
	v.SetDefault("esbuild-path", d.ESBuildPath)
	v.SetDefault("rescan", d.Rescan)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("template-cache", d.TemplateCache)
}

// configureEnv sets up environment variable support.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("PLUGINDEV")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// configureFile sets up the config file source.
func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}

		return nil
	}

	// Auto-discovery mode.
	v.SetConfigName(".plugindev")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "plugindev"))
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file found → perfectly fine in auto-discovery.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}

		// Found a file but it was malformed.
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// bindFlags walks from cmd up to the root and binds all PersistentFlags.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	// Bind the current command's own flags.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	// Walk up to root and bind all persistent flags at each level.
	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKey struct{}

// NewContext returns a child context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}

	return Default()
}
