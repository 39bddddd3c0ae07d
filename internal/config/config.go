// Package config provides configuration management for assetpipe using Viper
// for loading from files, environment variables, and command-line flags.
//
// The only required setting is proxyUrl, the address of the local server the
// live-reload proxy fronts, and only watch needs it. Everything else has a
// default matching the fixed src/ → dist/ layout.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/spf13/viper"
)

type Config struct {
	ProxyURL string        `mapstructure:"proxyUrl"`
	Root     string        `mapstructure:"root"`
	Server   ServerConfig  `mapstructure:"server"`
	Watch    WatchConfig   `mapstructure:"watch"`
	Styles   StylesConfig  `mapstructure:"styles"`
	Images   ImagesConfig  `mapstructure:"images"`
	Logging  LoggingConfig `mapstructure:"logging"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type WatchConfig struct {
	Debounce   time.Duration `mapstructure:"debounce"`
	BuildFirst bool          `mapstructure:"buildFirst"`
}

type StylesConfig struct {
	Compiler  string   `mapstructure:"compiler"`
	LoadPaths []string `mapstructure:"loadPaths"`
	SourceMap bool     `mapstructure:"sourceMap"`
}

type ImagesConfig struct {
	JPEGQuality int `mapstructure:"jpegQuality"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Address is the host:port the live-reload proxy listens on.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EnvPrefix is the prefix for environment overrides, e.g. ASSETPIPE_PROXYURL.
const EnvPrefix = "ASSETPIPE"

// EnvKeyReplacer maps nested keys onto environment names: server.port becomes
// ASSETPIPE_SERVER_PORT.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// allowedCompilers lists the style compiler executables assetpipe will run.
var allowedCompilers = map[string]bool{
	"sass":      true,
	"dart-sass": true,
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("proxyUrl", "")
	v.SetDefault("root", ".")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("watch.debounce", 100*time.Millisecond)
	v.SetDefault("watch.buildFirst", true)
	v.SetDefault("styles.compiler", "sass")
	v.SetDefault("styles.loadPaths", []string{})
	v.SetDefault("styles.sourceMap", true)
	v.SetDefault("images.jpegQuality", 85)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("metrics.enabled", true)
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "unmarshal config: "+err.Error())
	}

	// Viper does not always decode string slices from env vars.
	if v.IsSet("styles.loadPaths") && len(config.Styles.LoadPaths) == 0 {
		config.Styles.LoadPaths = v.GetStringSlice("styles.loadPaths")
	}

	config.ProxyURL = strings.TrimSpace(config.ProxyURL)
	config.Root = filepath.Clean(config.Root)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// ValidateForWatch checks the settings only the watch command needs. A missing
// or malformed proxyUrl is fatal at startup.
func (c *Config) ValidateForWatch() error {
	if c.ProxyURL == "" {
		return apperrors.NewConfigError(apperrors.CodeMissingProxyURL, "proxyUrl is required to run watch")
	}
	if _, err := c.Upstream(); err != nil {
		return err
	}
	return nil
}

// Upstream parses ProxyURL.
func (c *Config) Upstream() (*url.URL, error) {
	u, err := url.Parse(c.ProxyURL)
	if err != nil {
		return nil, apperrors.NewConfigError(apperrors.CodeInvalidProxyURL, fmt.Sprintf("proxyUrl %q: %v", c.ProxyURL, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperrors.NewConfigError(apperrors.CodeInvalidProxyURL, fmt.Sprintf("proxyUrl %q must use http or https", c.ProxyURL))
	}
	if u.Host == "" {
		return nil, apperrors.NewConfigError(apperrors.CodeInvalidProxyURL, fmt.Sprintf("proxyUrl %q has no host", c.ProxyURL))
	}
	return u, nil
}

func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if config.Watch.Debounce < 0 {
		return apperrors.NewConfigError(apperrors.CodeInvalidConfig, "watch.debounce must not be negative")
	}

	if !allowedCompilers[config.Styles.Compiler] {
		return apperrors.NewConfigError(apperrors.CodeInvalidConfig,
			fmt.Sprintf("styles.compiler %q is not allowed", config.Styles.Compiler))
	}
	for _, p := range config.Styles.LoadPaths {
		if err := validatePath(p); err != nil {
			return fmt.Errorf("styles.loadPaths: %w", err)
		}
	}

	if config.Images.JPEGQuality < 1 || config.Images.JPEGQuality > 100 {
		return apperrors.NewConfigError(apperrors.CodeInvalidConfig,
			fmt.Sprintf("images.jpegQuality %d is not in range 1-100", config.Images.JPEGQuality))
	}

	switch config.Logging.Format {
	case "text", "json":
	default:
		return apperrors.NewConfigError(apperrors.CodeInvalidConfig,
			fmt.Sprintf("logging.format %q must be text or json", config.Logging.Format))
	}

	if config.ProxyURL != "" {
		if _, err := config.Upstream(); err != nil {
			return err
		}
	}

	return nil
}

func validateServerConfig(config *ServerConfig) error {
	// Port 0 lets the OS pick, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		return apperrors.NewConfigError(apperrors.CodeInvalidConfig,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port))
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", "/"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return apperrors.NewConfigError(apperrors.CodeInvalidConfig,
				fmt.Sprintf("host contains invalid character: %s", char))
		}
	}

	return nil
}

// validatePath rejects load paths that try to leave the project.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
