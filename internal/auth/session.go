package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNoSession indicates the session file does not exist.
var ErrNoSession = errors.New("no session")

// SessionFile persists the signed-in identity as YAML.
type SessionFile struct {
	path string
}

// NewSessionFile returns a session store at path.
func NewSessionFile(path string) *SessionFile {
	return &SessionFile{path: path}
}

// Path returns the file location.
func (f *SessionFile) Path() string {
	return f.path
}

// Save writes id with owner-only permissions.
func (f *SessionFile) Save(id Identity) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return os.WriteFile(f.path, data, 0o600)
}

// Load reads the identity. Returns ErrNoSession when nothing is saved.
func (f *SessionFile) Load() (*Identity, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", f.path, err)
	}
	if id.UserID == "" {
		return nil, ErrNoSession
	}
	return &id, nil
}

// Remove deletes the file. A missing file is not an error.
func (f *SessionFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
