// Package credentials stores the hyperdmabufctl session token between CLI
// invocations, so "login" and subsequent commands don't have to share a
// process.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	configDirName  = "hyperdmabufctl"
	configFileName = "credentials.json"
	filePerm       = 0600
	dirPerm        = 0700
)

// ErrNotLoggedIn indicates no session token is stored.
var ErrNotLoggedIn = errors.New("not logged in - run 'hyperdmabufctl login' first")

// Session is the persisted session state for one server.
type Session struct {
	ServerURL string    `json:"server_url"`
	OwnerVM   uint32    `json:"owner_vm"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the token has expired, or will within 60s.
func (s *Session) IsExpired() bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(60 * time.Second).After(s.ExpiresAt)
}

// Store persists a single Session to a JSON file under the user's config dir.
type Store struct {
	path    string
	session *Session
}

// NewStore loads (or prepares to create) the credential file.
func NewStore() (*Store, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func configPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, configDirName, configFileName), nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}
	s.session = &session
	return nil
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(s.session, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, filePerm)
}

// Get returns the stored session, or ErrNotLoggedIn if none exists.
func (s *Store) Get() (*Session, error) {
	if s.session == nil {
		return nil, ErrNotLoggedIn
	}
	return s.session, nil
}

// Save persists session as the current session.
func (s *Store) Save(session *Session) error {
	s.session = session
	return s.save()
}

// Clear removes the stored session (logout).
func (s *Store) Clear() error {
	s.session = nil
	return os.Remove(s.path)
}
