package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrNoSession = errors.New("no stored session, run `palaver login` first")

type Session struct {
	ServerURL string    `yaml:"server_url"`
	Token     string    `yaml:"token"`
	SavedAt   time.Time `yaml:"saved_at"`
}

// SessionFile persists the access token between runs.
type SessionFile struct {
	path string
}

func NewSessionFile(path string) *SessionFile {
	return &SessionFile{path: path}
}

func (f *SessionFile) Path() string { return f.path }

// Load returns ErrNoSession when no token is stored.
func (f *SessionFile) Load() (Session, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, ErrNoSession
		}
		return Session{}, errors.Wrap(err, "read session file")
	}
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Session{}, errors.Wrapf(err, "parse session file %s", f.path)
	}
	if strings.TrimSpace(s.Token) == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

// LoadFor is Load restricted to sessions issued by serverURL.
func (f *SessionFile) LoadFor(serverURL string) (Session, error) {
	s, err := f.Load()
	if err != nil {
		return Session{}, err
	}
	if s.ServerURL != "" && strings.TrimRight(s.ServerURL, "/") != strings.TrimRight(serverURL, "/") {
		return Session{}, errors.Wrapf(ErrNoSession, "stored session belongs to %s", s.ServerURL)
	}
	return s, nil
}

func (f *SessionFile) Save(s Session) error {
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now().UTC()
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return errors.Wrap(err, "create session directory")
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return errors.Wrap(err, "write session file")
	}
	return nil
}

func (f *SessionFile) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove session file")
	}
	return nil
}
