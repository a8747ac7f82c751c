package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/acolita/ashell-monkey/internal/adapters/realclock"
	"github.com/acolita/ashell-monkey/internal/adapters/realfs"
	"github.com/acolita/ashell-monkey/internal/adapters/realpicker"
	"github.com/acolita/ashell-monkey/internal/config"
	"github.com/acolita/ashell-monkey/internal/credentials"
	"github.com/acolita/ashell-monkey/internal/logging"
	"github.com/acolita/ashell-monkey/internal/ports"
	"github.com/acolita/ashell-monkey/internal/transport"
)

// openFunc opens a device link.
type openFunc func(transport.Endpoint, transport.Options, transport.Deps) (ports.Transport, error)

// app holds everything the commands touch, so tests can swap the outside world.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	fs          ports.FileSystem
	clock       ports.Clock
	open        openFunc
	listPorts   func() ([]string, error)
	picker      ports.PortPicker
	prompter    ports.SecretPrompter
	credentials func(ports.FileSystem) *credentials.Store
	isTerminal  func(any) bool

	// set by persistent flags
	configPath string
	debug      bool
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

func newApp() *app {
	picker := realpicker.New()
	return &app{
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		fs:          realfs.New(),
		clock:       realclock.New(),
		open:        transport.Open,
		listPorts:   transport.ListSerialPorts,
		picker:      picker,
		prompter:    picker,
		credentials: credentials.NewStore,
		isTerminal:  isTerminal,
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// loadConfig reads the config file, applies global flag overrides and
// installs the logger.
func (a *app) loadConfig() error {
	path := a.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path, a.fs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.cfg = cfg
	a.logger = logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Sanitize: cfg.Logging.Sanitize,
		Writer:   a.stderr,
	})
	a.logger.Debug("configuration loaded", slog.String("path", path))
	return nil
}

// errNoPort is returned when no port is given and none can be picked.
var errNoPort = errors.New("no device port given (pass one, set transport.port, or run in a terminal to pick)")

// resolvePort turns the port argument into a port string. An empty or "-"
// argument falls back to transport.port, then to an interactive pick among
// the detected serial ports. Device names from the config are expanded.
func (a *app) resolvePort(arg string) (string, error) {
	if arg == "" || arg == "-" {
		if arg == "" && a.cfg.Transport.Port != "" {
			arg = a.cfg.Transport.Port
		} else {
			picked, err := a.pickPort()
			if err != nil {
				return "", err
			}
			arg = picked
		}
	}

	if dev, ok := a.cfg.Device(arg); ok {
		a.logger.Debug("using named device", slog.String("device", dev.Name), slog.String("port", dev.Port))
		return dev.Port, nil
	}
	return arg, nil
}

func (a *app) pickPort() (string, error) {
	if !a.isTerminal(a.stdin) {
		return "", errNoPort
	}
	candidates, err := a.listPorts()
	if err != nil {
		return "", err
	}
	for _, dev := range a.cfg.Devices {
		candidates = append(candidates, dev.Name)
	}
	return a.picker.PickPort(candidates)
}

// transportOptions builds link options from the config, filling SSH secrets
// from the environment or keyring.
func (a *app) transportOptions(ep transport.Endpoint) (transport.Options, error) {
	c := a.cfg.Transport
	opts := transport.Options{
		Baud:        c.Baud,
		ChunkSize:   c.ChunkSize,
		DialTimeout: c.DialTimeout,
		SSH: transport.SSHOptions{
			KeyPath:        c.SSH.KeyPath,
			UseAgent:       c.SSH.UseAgent,
			KnownHostsPath: c.SSH.KnownHosts,
			Insecure:       c.SSH.Insecure,
			Command:        c.SSH.Command,
			Term:           c.SSH.Term,
		},
	}
	if ep.Kind != transport.KindSSH {
		return opts, nil
	}

	store := a.credentials(a.fs)
	if !c.SSH.UseKeyring {
		store.SetEnabled(false)
	}

	user := ep.User
	if user == "" {
		user = a.fs.Getenv("USER")
	}
	password, err := store.ConsolePassword(ep.Address, user)
	if err != nil {
		return opts, err
	}
	opts.SSH.Password = password

	if c.SSH.KeyPath != "" {
		passphrase, err := store.KeyPassphrase(c.SSH.KeyPath)
		if err != nil {
			return opts, err
		}
		opts.SSH.KeyPassphrase = passphrase
	}
	return opts, nil
}

// colorEnabled resolves report.color against the output stream.
func (a *app) colorEnabled() bool {
	switch a.cfg.Report.Color {
	case "always":
		return true
	case "never":
		return false
	default:
		return a.isTerminal(a.stdout) && a.fs.Getenv("NO_COLOR") == ""
	}
}
