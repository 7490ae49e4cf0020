package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sync"

	"github.com/sethvargo/go-password/password"
	"github.com/spf13/afero"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// adminTokenLength is the length of the generated admin API token.
const adminTokenLength = 32

// Manager loads and saves the settings file. All file access goes through
// an afero filesystem so tests can run fully in memory.
type Manager struct {
	path string
	fs   afero.Fs
	mu   sync.Mutex
}

// NewManager returns a manager over the OS filesystem.
func NewManager(path string) *Manager {
	return &Manager{path: path, fs: afero.NewOsFs()}
}

// NewManagerWithFs returns a manager over the given filesystem.
func NewManagerWithFs(path string, fsys afero.Fs) *Manager {
	return &Manager{path: path, fs: fsys}
}

// Path returns the settings file path.
func (m *Manager) Path() string {
	return m.path
}

// Load reads, normalizes, and validates the settings file. On first run,
// when the file does not exist, it writes defaults (including a freshly
// generated admin token) and returns them.
func (m *Manager) Load() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s := DefaultSettings()
			if err := m.saveLocked(&s); err != nil {
				return Settings{}, fmt.Errorf("writing default config: %w", err)
			}
			log.Printf("[config] created default config at %s", m.path)
			return s, nil
		}
		return Settings{}, fmt.Errorf("reading config: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parsing config: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid config: %w", err)
	}
	return s, nil
}

// Save validates and writes the settings atomically. When no admin token
// hash is present one is generated and printed to the log a single time;
// only the bcrypt hash is written to disk.
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(&s)
}

func (m *Manager) saveLocked(s *Settings) error {
	s.Normalize()

	if s.Server.AdminTokenHash == "" {
		token, err := password.Generate(adminTokenLength, 10, 0, false, true)
		if err != nil {
			return fmt.Errorf("generating admin token: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing admin token: %w", err)
		}
		s.Server.AdminTokenHash = string(hash)
		log.Printf("[config] generated admin token: %s", token)
		log.Printf("[config] only the token hash is stored; record the token now")
	}

	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := m.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write to a temp file in the same directory and rename over the
	// target so readers never observe a partial file.
	tmp, err := afero.TempFile(m.fs, dir, ".rostercal-config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer m.fs.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := m.fs.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := m.fs.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}
