// Package config handles configuration parsing for ashell-monkey.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/acolita/ashell-monkey/internal/ports"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/ashell-monkey/config.yaml or ~/.config/ashell-monkey/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ashell-monkey", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Devices   []DeviceConfig  `yaml:"devices,omitempty" toml:"devices,omitempty"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Shell     ShellConfig     `yaml:"shell" toml:"shell"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts" toml:"timeouts"`
	Poll      PollConfig      `yaml:"poll" toml:"poll"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Recording RecordingConfig `yaml:"recording" toml:"recording"`
	Report    ReportConfig    `yaml:"report" toml:"report"`
	Watch     WatchConfig     `yaml:"watch" toml:"watch"`
}

// DeviceConfig gives a port string a short name usable on the command line.
type DeviceConfig struct {
	Name string `yaml:"name" toml:"name"`
	Port string `yaml:"port" toml:"port"`
}

// TransportConfig defines how the device console is reached.
type TransportConfig struct {
	Port        string        `yaml:"port" toml:"port"` // default port when none is given
	Baud        int           `yaml:"baud" toml:"baud"`
	ChunkSize   int           `yaml:"chunk_size" toml:"chunk_size"` // max bytes per poll
	DialTimeout time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	SSH         SSHConfig     `yaml:"ssh" toml:"ssh"`
}

// SSHConfig defines console-server settings for ssh:// ports.
type SSHConfig struct {
	KeyPath    string `yaml:"key_path" toml:"key_path"`
	UseAgent   bool   `yaml:"use_agent" toml:"use_agent"`
	KnownHosts string `yaml:"known_hosts" toml:"known_hosts"`
	Insecure   bool   `yaml:"insecure" toml:"insecure"` // skip host key verification
	Command    string `yaml:"command" toml:"command"`   // remote command that attaches the console
	Term       string `yaml:"term" toml:"term"`
	UseKeyring bool   `yaml:"use_keyring" toml:"use_keyring"` // look passwords up in the OS keyring
}

// ShellConfig defines the device shell protocol.
type ShellConfig struct {
	Prompt     string `yaml:"prompt" toml:"prompt"`
	HelperPath string `yaml:"helper_path" toml:"helper_path"` // assertion helper on the host
	HelperName string `yaml:"helper_name" toml:"helper_name"` // helper file name on the device
	TestName   string `yaml:"test_name" toml:"test_name"`     // name each script is loaded as
	EchoMode   string `yaml:"echo_mode" toml:"echo_mode"`     // "buffer" or "stream"
}

// TimeoutsConfig bounds each wait. Zero waits forever.
type TimeoutsConfig struct {
	Setup  time.Duration `yaml:"setup" toml:"setup"`
	Ready  time.Duration `yaml:"ready" toml:"ready"`
	Echo   time.Duration `yaml:"echo" toml:"echo"`
	Result time.Duration `yaml:"result" toml:"result"`
}

// PollConfig defines the idle backoff of the read loop.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval" toml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval" toml:"max_interval"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level" toml:"level"`       // "debug", "info", "warn", "error"
	Format   string `yaml:"format" toml:"format"`     // "json" or "text"
	Sanitize bool   `yaml:"sanitize" toml:"sanitize"` // sanitize sensitive data from logs
}

// RecordingConfig defines transcript recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"` // directory to store recordings
}

// ReportConfig defines the end-of-run report.
type ReportConfig struct {
	Path    string `yaml:"path" toml:"path"`   // JSON report file, empty disables
	Color   string `yaml:"color" toml:"color"` // "auto", "always", "never"
	Verbose bool   `yaml:"verbose" toml:"verbose"`
}

// WatchConfig defines watch mode settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" toml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Baud:        115200,
			ChunkSize:   4096,
			DialTimeout: 10 * time.Second,
			SSH: SSHConfig{
				UseAgent:   true,
				UseKeyring: true,
			},
		},
		Shell: ShellConfig{
			Prompt:     "acm>",
			HelperPath: "modules/Assert.js",
			HelperName: "Assert.js",
			TestName:   "test.js",
			EchoMode:   "buffer",
		},
		Timeouts: TimeoutsConfig{
			Setup:  30 * time.Second,
			Ready:  30 * time.Second,
			Echo:   10 * time.Second,
			Result: 5 * time.Minute,
		},
		Poll: PollConfig{
			Interval:    time.Millisecond,
			MaxInterval: 50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Sanitize: true,
		},
		Recording: RecordingConfig{
			Path: "recordings",
		},
		Report: ReportConfig{
			Color: "auto",
		},
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
		},
	}
}

// isTOML reports whether path selects the TOML format.
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load loads configuration from a YAML or TOML file, chosen by extension.
// A missing file yields the defaults.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

var (
	echoModes  = []string{"buffer", "stream"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
	colorModes = []string{"auto", "always", "never"}
)

// Validate normalises the configuration and rejects values that cannot work.
func (c *Config) Validate() error {
	d := DefaultConfig()

	if c.Transport.Baud <= 0 {
		c.Transport.Baud = d.Transport.Baud
	}
	if c.Transport.ChunkSize <= 0 {
		c.Transport.ChunkSize = d.Transport.ChunkSize
	}
	if c.Shell.Prompt == "" {
		c.Shell.Prompt = d.Shell.Prompt
	}
	if c.Shell.HelperName == "" {
		c.Shell.HelperName = d.Shell.HelperName
	}
	if c.Shell.TestName == "" {
		c.Shell.TestName = d.Shell.TestName
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = d.Poll.Interval
	}
	if c.Poll.MaxInterval < c.Poll.Interval {
		c.Poll.MaxInterval = c.Poll.Interval
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = d.Watch.Debounce
	}

	var errs []error
	if c.Shell.HelperPath == "" {
		errs = append(errs, errors.New("shell.helper_path must be set"))
	}
	if c.Shell.EchoMode == "" {
		c.Shell.EchoMode = d.Shell.EchoMode
	}
	if !slices.Contains(echoModes, c.Shell.EchoMode) {
		errs = append(errs, fmt.Errorf("shell.echo_mode %q: want one of %v", c.Shell.EchoMode, echoModes))
	}

	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q: want one of %v", c.Logging.Level, logLevels))
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format %q: want one of %v", c.Logging.Format, logFormats))
	}
	if c.Report.Color == "" {
		c.Report.Color = d.Report.Color
	}
	if !slices.Contains(colorModes, c.Report.Color) {
		errs = append(errs, fmt.Errorf("report.color %q: want one of %v", c.Report.Color, colorModes))
	}

	for name, v := range map[string]time.Duration{
		"timeouts.setup":         c.Timeouts.Setup,
		"timeouts.ready":         c.Timeouts.Ready,
		"timeouts.echo":          c.Timeouts.Echo,
		"timeouts.result":        c.Timeouts.Result,
		"transport.dial_timeout": c.Transport.DialTimeout,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	seen := make(map[string]bool)
	for i, dev := range c.Devices {
		switch {
		case dev.Name == "":
			errs = append(errs, fmt.Errorf("devices[%d]: name must be set", i))
		case dev.Port == "":
			errs = append(errs, fmt.Errorf("device %q: port must be set", dev.Name))
		case seen[dev.Name]:
			errs = append(errs, fmt.Errorf("device %q defined twice", dev.Name))
		}
		seen[dev.Name] = true
	}

	return errors.Join(errs...)
}

// Device returns the device with the given name.
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// AddDevice adds a named device to the configuration.
// Returns an error if a device with the same name already exists.
func (c *Config) AddDevice(dev DeviceConfig) error {
	if _, ok := c.Device(dev.Name); ok {
		return fmt.Errorf("device %q already exists", dev.Name)
	}
	c.Devices = append(c.Devices, dev)
	return nil
}

// Save writes the configuration to a YAML or TOML file, chosen by extension.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
	}

	if len(fsys) > 0 && fsys[0] != nil {
		if err := fsys[0].MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		return fsys[0].WriteFile(path, data, 0644)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
