// Package auth stores credentials (solver API key, proxy password) in the OS
// keyring, or in 0600 files where no keyring is reachable.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/law-makers/newsfetch/internal/config"
	"github.com/law-makers/newsfetch/internal/logging"
	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name for keyring storage
	KeyringService = "newsfetch"
	// FallbackDir is the directory for file-based storage, relative to the home directory
	FallbackDir = ".newsfetch/secrets"

	// manifestKey lists the names held in the keyring, which cannot be enumerated
	manifestKey = "_manifest"
)

// Well-known secret names
const (
	SolverAPIKey       = "solver-api-key"
	SmartproxyPassword = "smartproxy-password"
)

// ErrNotFound is returned when a secret does not exist
var ErrNotFound = errors.New("secret not found")

// Secrets reads and writes named secrets
type Secrets struct {
	service string
	dir     string

	once     sync.Once
	fileMode bool
	forced   bool
}

// Options configure a Secrets store
type Options struct {
	// Service overrides KeyringService
	Service string
	// Dir overrides ~/FallbackDir
	Dir string
	// FileOnly skips the keyring entirely
	FileOnly bool
}

// New creates a Secrets store
func New(opts Options) (*Secrets, error) {
	if opts.Service == "" {
		opts.Service = KeyringService
	}
	if opts.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate home directory: %w", err)
		}
		opts.Dir = filepath.Join(home, FallbackDir)
	}
	return &Secrets{service: opts.Service, dir: opts.Dir, fileMode: opts.FileOnly, forced: opts.FileOnly}, nil
}

// useFile reports whether the file fallback is in use. The keyring is probed
// once; CI and Codespaces always use files.
func (s *Secrets) useFile() bool {
	s.once.Do(func() {
		if s.forced {
			return
		}
		if os.Getenv("CODESPACES") != "" || os.Getenv("CI") != "" {
			s.fileMode = true
			return
		}

		testKey := "_test_keyring_access_"
		if err := keyring.Set(s.service, testKey, "test"); err != nil {
			logging.WithComponent("auth").Debug().Err(err).Msg("Keyring unavailable, using file storage")
			s.fileMode = true
			return
		}
		keyring.Delete(s.service, testKey)
	})
	return s.fileMode
}

func (s *Secrets) path(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return "", fmt.Errorf("create secrets directory: %w", err)
	}
	return filepath.Join(s.dir, name), nil
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("secret name cannot be empty")
	}
	if name == manifestKey || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid secret name %q", name)
	}
	return nil
}

// Set stores value under name
func (s *Secrets) Set(name, value string) error {
	if s.useFile() {
		path, err := s.path(name)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(value), 0600); err != nil {
			return fmt.Errorf("failed to save secret file: %w", err)
		}
		return nil
	}

	if err := validName(name); err != nil {
		return err
	}
	if err := keyring.Set(s.service, name, value); err != nil {
		return fmt.Errorf("failed to save to keyring: %w", err)
	}
	return s.updateManifest(name, true)
}

// Get returns the secret stored under name
func (s *Secrets) Get(name string) (string, error) {
	if s.useFile() {
		path, err := s.path(name)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("failed to read secret file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if err := validName(name); err != nil {
		return "", err
	}
	value, err := keyring.Get(s.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load from keyring: %w", err)
	}
	return value, nil
}

// Delete removes the secret stored under name. Deleting a missing secret is not an error.
func (s *Secrets) Delete(name string) error {
	if s.useFile() {
		path, err := s.path(name)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete secret file: %w", err)
		}
		return nil
	}

	if err := validName(name); err != nil {
		return err
	}
	if err := keyring.Delete(s.service, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return s.updateManifest(name, false)
}

// List returns the stored secret names, sorted
func (s *Secrets) List() ([]string, error) {
	if s.useFile() {
		entries, err := os.ReadDir(s.dir)
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		if err != nil {
			return nil, err
		}
		names := []string{}
		for _, entry := range entries {
			if !entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)
		return names, nil
	}

	raw, err := keyring.Get(s.service, manifestKey)
	if err != nil {
		// No manifest exists yet
		return []string{}, nil
	}
	names := []string{}
	for _, name := range strings.Split(raw, "\n") {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// updateManifest adds or removes name from the keyring manifest
func (s *Secrets) updateManifest(name string, add bool) error {
	names, _ := s.List()

	kept := names[:0]
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}
	if add {
		kept = append(kept, name)
	}

	return keyring.Set(s.service, manifestKey, strings.Join(kept, "\n"))
}

// Fill sets config credentials that the flags, environment and config file
// left empty from the secret store
func (s *Secrets) Fill(cfg *config.Config) {
	logger := logging.WithComponent("auth")

	fill := func(dst *string, name string) {
		if *dst != "" {
			return
		}
		value, err := s.Get(name)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				logger.Warn().Err(err).Str("secret", name).Msg("Failed to read secret")
			}
			return
		}
		*dst = value
		logger.Debug().Str("secret", name).Msg("Loaded secret from store")
	}

	fill(&cfg.SolverAPIKey, SolverAPIKey)
	fill(&cfg.SmartproxyPassword, SmartproxyPassword)
}
