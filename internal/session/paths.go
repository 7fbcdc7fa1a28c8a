package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBaseDir returns ~/.wppgw.
func DefaultBaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wppgw")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// Layout resolves on-disk paths for every session under one base directory.
type Layout struct {
	Base string
}

// NewLayout returns a Layout rooted at base, or at DefaultBaseDir when empty.
func NewLayout(base string) Layout {
	if base == "" {
		base = DefaultBaseDir()
	}
	return Layout{Base: ExpandHome(base)}
}

// SessionsDir returns the directory holding every session directory.
func (l Layout) SessionsDir() string {
	return filepath.Join(l.Base, "sessions")
}

// Dir returns the session-specific directory.
func (l Layout) Dir(name string) string {
	return filepath.Join(l.SessionsDir(), name)
}

// LockPath returns the lock file path for a session.
func (l Layout) LockPath(name string) string {
	return filepath.Join(l.Dir(name), "LOCK")
}

// CredentialsPath returns the whatsmeow credential database path.
func (l Layout) CredentialsPath(name string) string {
	return filepath.Join(l.Dir(name), "session.db")
}

// AppDBPath returns the gateway-owned database path.
func (l Layout) AppDBPath(name string) string {
	return filepath.Join(l.Dir(name), "wppgw.db")
}

// LogPath returns the process log file path.
func (l Layout) LogPath() string {
	return filepath.Join(l.Base, "logs", "wppgw.log")
}

// ConfigPath returns the default config file path.
func (l Layout) ConfigPath() string {
	return filepath.Join(l.Base, "config.toml")
}

// EnsureDir creates the session directory with owner-only permissions.
func (l Layout) EnsureDir(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return os.MkdirAll(l.Dir(name), 0700)
}

// HasCredentials reports whether a credential database exists for name.
func (l Layout) HasCredentials(name string) bool {
	info, err := os.Stat(l.CredentialsPath(name))
	return err == nil && info.Size() > 0
}

// Files lists the file names in the session directory. A missing directory
// yields an empty list.
func (l Layout) Files(name string) ([]string, error) {
	entries, err := os.ReadDir(l.Dir(name))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out, nil
}

// Names lists the valid session names that have a directory on disk.
func (l Layout) Names() ([]string, error) {
	entries, err := os.ReadDir(l.SessionsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Purge deletes everything persisted for name. The caller must hold the
// session slot exclusively.
func (l Layout) Purge(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.RemoveAll(l.Dir(name)); err != nil {
		return fmt.Errorf("purge session %s: %w", name, err)
	}
	return nil
}
