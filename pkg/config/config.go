// Package config loads the service configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/waweb/pkg/browser"
	"github.com/entrhq/waweb/pkg/logging"
	"github.com/entrhq/waweb/pkg/whatsapp"
)

// Environment variables applied on top of the file configuration.
const (
	EnvHeadless       = "HEADLESS"
	EnvAPIKey         = "API_KEY"
	EnvSessionTimeout = "SESSION_TIMEOUT_MINUTES"
	EnvAddr           = "WAWEB_ADDR"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogDir         = "LOG_DIR"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Browser  BrowserConfig  `yaml:"browser" json:"browser"`
	Sessions SessionsConfig `yaml:"sessions" json:"sessions"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"` // Must outlast a full initialization
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxConnections  int           `yaml:"max_connections" json:"max_connections"` // 0 disables the limit
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`

	// APIKey, when set, is required in the X-API-KEY header of every route
	// except the health check
	APIKey string `yaml:"api_key" json:"-"`

	// AllowedDevices are glob patterns device ids must match (empty allows all)
	AllowedDevices []string `yaml:"allowed_devices" json:"allowed_devices"`
}

// BrowserConfig configures browser discovery and launch.
type BrowserConfig struct {
	Headless        bool          `yaml:"headless" json:"headless"`
	ExecutablePaths []string      `yaml:"executable_paths" json:"executable_paths"`
	DriverDirs      []string      `yaml:"driver_dirs" json:"driver_dirs"`
	InstallDriver   bool          `yaml:"install_driver" json:"install_driver"`
	UserAgent       string        `yaml:"user_agent" json:"user_agent"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout" json:"page_load_timeout"`
	ElementTimeout  time.Duration `yaml:"element_timeout" json:"element_timeout"`
}

// SessionsConfig configures device sessions and their on-disk state.
type SessionsConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	QRDir    string `yaml:"qr_dir" json:"qr_dir"`
	MediaDir string `yaml:"media_dir" json:"media_dir"`

	IdleTimeoutMinutes int           `yaml:"idle_timeout_minutes" json:"idle_timeout_minutes"`
	SweepInterval      time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	AuthTimeout     time.Duration `yaml:"auth_timeout" json:"auth_timeout"`
	QRTimeout       time.Duration `yaml:"qr_timeout" json:"qr_timeout"`
	ChatLoadTimeout time.Duration `yaml:"chat_load_timeout" json:"chat_load_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// WebConfig configures the web client being driven.
type WebConfig struct {
	ServiceURL  string `yaml:"service_url" json:"service_url"`
	CountryCode string `yaml:"country_code" json:"country_code"`
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" json:"level"`

	// Dir receives the log file; empty logs to stderr
	Dir string `yaml:"dir" json:"dir"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    7 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxConnections:  64,
			MaxBodyBytes:    1 << 20,
		},
		Browser: BrowserConfig{
			Headless:        true,
			InstallDriver:   true,
			UserAgent:       browser.DefaultUserAgent,
			PageLoadTimeout: browser.DefaultPageLoadTimeout,
			ElementTimeout:  browser.DefaultElementTimeout,
		},
		Sessions: SessionsConfig{
			Dir:                "sessions",
			QRDir:              "qr_codes",
			MediaDir:           "media",
			IdleTimeoutMinutes: 30,
			SweepInterval:      time.Minute,
			AuthTimeout:        whatsapp.DefaultAuthTimeout,
			QRTimeout:          whatsapp.DefaultQRTimeout,
			ChatLoadTimeout:    whatsapp.DefaultChatLoadTimeout,
			PollInterval:       whatsapp.DefaultPollInterval,
		},
		Web: WebConfig{
			ServiceURL:  whatsapp.DefaultServiceURL,
			CountryCode: whatsapp.DefaultCountryCode,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvHeadless); ok {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvHeadless, v)
		}
		c.Browser.Headless = headless
	}
	if v, ok := get(EnvAPIKey); ok {
		c.Server.APIKey = v
	}
	if v, ok := get(EnvSessionTimeout); ok {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvSessionTimeout, v)
		}
		c.Sessions.IdleTimeoutMinutes = minutes
	}
	if v, ok := get(EnvAddr); ok {
		c.Server.Addr = v
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Logging.Level = v
	}
	if v, ok := get(EnvLogDir); ok {
		c.Logging.Dir = v
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts cannot be negative")
	}
	if budget := c.SessionOptions(nil).InitializeBudget(); c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= budget {
		return fmt.Errorf("server.write_timeout (%s) must exceed the longest initialization (%s)",
			c.Server.WriteTimeout, budget)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections cannot be negative")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if _, err := c.DeviceMatchers(); err != nil {
		return err
	}

	if c.Browser.PageLoadTimeout < 0 || c.Browser.ElementTimeout < 0 {
		return fmt.Errorf("browser timeouts cannot be negative")
	}

	if c.Sessions.Dir == "" || c.Sessions.QRDir == "" {
		return fmt.Errorf("sessions.dir and sessions.qr_dir are required")
	}
	if c.Sessions.IdleTimeoutMinutes <= 0 {
		return fmt.Errorf("sessions.idle_timeout_minutes must be positive")
	}
	if c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("sessions.sweep_interval must be positive")
	}
	if c.Sessions.AuthTimeout <= 0 || c.Sessions.QRTimeout <= 0 || c.Sessions.ChatLoadTimeout <= 0 {
		return fmt.Errorf("sessions auth, qr and chat load timeouts must be positive")
	}
	if c.Sessions.PollInterval <= 0 {
		return fmt.Errorf("sessions.poll_interval must be positive")
	}

	u, err := url.Parse(c.Web.ServiceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid web.service_url: %q", c.Web.ServiceURL)
	}
	if c.Web.CountryCode == "" || strings.Trim(c.Web.CountryCode, "0123456789") != "" {
		return fmt.Errorf("invalid web.country_code: %q (digits only)", c.Web.CountryCode)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// IdleTimeout returns the session idle timeout.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Sessions.IdleTimeoutMinutes) * time.Minute
}

// DeviceMatchers compiles the allowed device patterns.
func (c *Config) DeviceMatchers() ([]glob.Glob, error) {
	matchers := make([]glob.Glob, 0, len(c.Server.AllowedDevices))
	for _, pattern := range c.Server.AllowedDevices {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed device pattern %q: %w", pattern, err)
		}
		matchers = append(matchers, g)
	}
	return matchers, nil
}

// SessionOptions maps the configuration onto session options.
func (c *Config) SessionOptions(log *logging.Logger) whatsapp.Options {
	opts := whatsapp.DefaultOptions()
	opts.SessionsDir = c.Sessions.Dir
	opts.QRDir = c.Sessions.QRDir
	opts.ServiceURL = c.Web.ServiceURL
	opts.CountryCode = c.Web.CountryCode
	opts.Headless = c.Browser.Headless
	opts.UserAgent = c.Browser.UserAgent
	opts.PageLoadTimeout = c.Browser.PageLoadTimeout
	opts.ElementTimeout = c.Browser.ElementTimeout
	opts.AuthTimeout = c.Sessions.AuthTimeout
	opts.QRTimeout = c.Sessions.QRTimeout
	opts.ChatLoadTimeout = c.Sessions.ChatLoadTimeout
	opts.PollInterval = c.Sessions.PollInterval
	opts.Logger = log
	return opts
}

// LauncherConfig maps the configuration onto the browser launcher.
func (c *Config) LauncherConfig(log *logging.Logger) browser.LauncherConfig {
	return browser.LauncherConfig{
		ExecutablePaths: c.Browser.ExecutablePaths,
		DriverDirs:      c.Browser.DriverDirs,
		InstallDriver:   c.Browser.InstallDriver,
		Logger:          log,
	}
}
