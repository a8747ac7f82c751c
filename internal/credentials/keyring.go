// Package credentials resolves console-server secrets from the environment
// or the OS keyring.
package credentials

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/acolita/ashell-monkey/internal/ports"
)

const (
	// KeyringService is the service name used for keyring entries.
	KeyringService = "ashell-monkey"

	// PasswordEnv overrides the stored console password.
	PasswordEnv = "ASHELL_MONKEY_SSH_PASSWORD"

	// PassphraseEnv overrides the stored private key passphrase.
	PassphraseEnv = "ASHELL_MONKEY_SSH_PASSPHRASE"
)

// ErrKeyringUnavailable is returned when no system keyring can be reached.
var ErrKeyringUnavailable = errors.New("keyring not available")

// Store looks secrets up in the environment first and the keyring second.
// It uses the system keyring (macOS Keychain, Linux Secret Service, Windows
// Credential Manager).
type Store struct {
	fs      ports.FileSystem
	enabled bool
	mu      sync.RWMutex
}

// NewStore creates a store. If the system keyring is not available, only the
// environment is consulted.
func NewStore(fs ports.FileSystem) *Store {
	s := &Store{fs: fs, enabled: true}

	testKey := "__ashell_monkey_availability__"
	if err := keyring.Set(KeyringService, testKey, "check"); err != nil {
		slog.Debug("keyring not available, using environment only",
			slog.String("error", err.Error()),
		)
		s.enabled = false
		return s
	}
	_ = keyring.Delete(KeyringService, testKey)

	slog.Debug("keyring storage enabled")
	return s
}

// IsEnabled returns true if the keyring is available and enabled.
func (s *Store) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled allows enabling/disabling keyring usage.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// ConsolePassword returns the password for user@host, or "" if none is known.
func (s *Store) ConsolePassword(host, user string) (string, error) {
	if v := s.fs.Getenv(PasswordEnv); v != "" {
		return v, nil
	}
	return s.get(consoleKey(host, user))
}

// StoreConsolePassword saves the password for user@host in the keyring.
func (s *Store) StoreConsolePassword(host, user, password string) error {
	if err := s.set(consoleKey(host, user), password); err != nil {
		return fmt.Errorf("store console password: %w", err)
	}
	slog.Debug("stored console password in keyring",
		slog.String("user", user),
		slog.String("host", host),
	)
	return nil
}

// DeleteConsolePassword removes the password for user@host from the keyring.
func (s *Store) DeleteConsolePassword(host, user string) error {
	return s.delete(consoleKey(host, user))
}

// KeyPassphrase returns the passphrase for a private key, or "" if none is known.
func (s *Store) KeyPassphrase(keyPath string) (string, error) {
	if v := s.fs.Getenv(PassphraseEnv); v != "" {
		return v, nil
	}
	return s.get(passphraseKey(keyPath))
}

// StoreKeyPassphrase saves the passphrase for a private key in the keyring.
func (s *Store) StoreKeyPassphrase(keyPath, passphrase string) error {
	if err := s.set(passphraseKey(keyPath), passphrase); err != nil {
		return fmt.Errorf("store key passphrase: %w", err)
	}
	return nil
}

// DeleteKeyPassphrase removes the passphrase for a private key from the keyring.
func (s *Store) DeleteKeyPassphrase(keyPath string) error {
	return s.delete(passphraseKey(keyPath))
}

func consoleKey(host, user string) string {
	return fmt.Sprintf("console:%s@%s", user, host)
}

func passphraseKey(keyPath string) string {
	return fmt.Sprintf("ssh-passphrase:%s", keyPath)
}

func (s *Store) get(key string) (string, error) {
	if !s.IsEnabled() {
		return "", nil
	}

	encoded, err := keyring.Get(KeyringService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read keyring: %w", err)
	}

	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode keyring entry: %w", err)
	}
	return string(secret), nil
}

func (s *Store) set(key, secret string) error {
	if !s.IsEnabled() {
		return ErrKeyringUnavailable
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(secret))
	return keyring.Set(KeyringService, key, encoded)
}

func (s *Store) delete(key string) error {
	if !s.IsEnabled() {
		return ErrKeyringUnavailable
	}
	if err := keyring.Delete(KeyringService, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete keyring entry: %w", err)
	}
	return nil
}
