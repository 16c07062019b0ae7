// Package auth provides the bearer credential store for the activity service.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spectile/fieldsync/internal/logger"
)

// EnvToken is the environment variable that overrides the token file.
const EnvToken = "FIELDSYNC_TOKEN"

// FileTokenSource resolves the bearer token from, in order:
//  1. the FIELDSYNC_TOKEN environment variable
//  2. the token file (written by the auth command)
//
// A 401 from the service invalidates the file-backed credential so the
// next protected call forces re-authentication.
type FileTokenSource struct {
	path   string
	mu     sync.Mutex
	cached string
	loaded bool
}

// NewFileTokenSource creates a token source backed by the given file.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

// DefaultTokenPath returns ~/.config/fieldsync/token.
func DefaultTokenPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "fieldsync", "token"), nil
}

// Token returns the current credential.
func (s *FileTokenSource) Token() (string, error) {
	if token := os.Getenv(EnvToken); token != "" {
		return token, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		if s.cached == "" {
			return "", fmt.Errorf("no API token found: run 'fieldsync auth' or set %s", EnvToken)
		}
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return "", fmt.Errorf("no API token found: run 'fieldsync auth' or set %s", EnvToken)
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	s.cached = strings.TrimSpace(string(data))
	s.loaded = true
	if s.cached == "" {
		return "", fmt.Errorf("token file %s is empty: run 'fieldsync auth'", s.path)
	}
	return s.cached, nil
}

// Invalidate drops the cached credential and removes the token file.
// Called by the API client on a 401; it must not trigger retries itself.
func (s *FileTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = ""
	s.loaded = true
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		logger.Warn("auth: failed to remove token file: %v", err)
	}
	logger.Info("auth: credential invalidated, re-authentication required")
}

// Save writes a new token to the file with owner-only permissions.
func (s *FileTokenSource) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	s.cached = token
	s.loaded = true
	return nil
}

// Clear removes the stored token.
func (s *FileTokenSource) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = ""
	s.loaded = true
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
