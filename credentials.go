package tangguh

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
)

// CredentialStore persists the token pair so sessions survive process
// restarts. Implementations must be safe for concurrent use. Load returning
// empty strings with a nil error means no stored session.
type CredentialStore interface {
	Load() (access, refresh string, err error)
	Save(access, refresh string) error
	Clear() error
}

// MemoryCredentialStore keeps tokens in process memory. This is the default:
// tokens vanish with the process.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemoryCredentialStore returns an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Load() (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.refresh, nil
}

func (s *MemoryCredentialStore) Save(access, refresh string) error {
	s.mu.Lock()
	s.access, s.refresh = access, refresh
	s.mu.Unlock()
	return nil
}

func (s *MemoryCredentialStore) Clear() error {
	return s.Save("", "")
}

// FileCredentialStore persists tokens as owner-readable JSON on disk, the
// durable local session used by long-lived CLI and daemon processes.
type FileCredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewFileCredentialStore stores tokens at path. Parent directories are
// created on first save.
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

type storedCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *FileCredentialStore) Load() (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("read credentials: %w", err)
	}

	var creds storedCredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return "", "", fmt.Errorf("decode credentials: %w", err)
	}
	return creds.AccessToken, creds.RefreshToken, nil
}

func (s *FileCredentialStore) Save(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(storedCredentials{
		AccessToken:  access,
		RefreshToken: refresh,
	})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	// Write-then-rename so a crash mid-save never leaves a torn file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit credentials: %w", err)
	}
	return nil
}

func (s *FileCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// NoopCredentialStore never persists anything. Use it where ambient
// credential storage is unwanted, such as shared test environments.
type NoopCredentialStore struct{}

// NewNoopCredentialStore returns a store that drops every write.
func NewNoopCredentialStore() NoopCredentialStore { return NoopCredentialStore{} }

func (NoopCredentialStore) Load() (string, string, error) { return "", "", nil }
func (NoopCredentialStore) Save(string, string) error     { return nil }
func (NoopCredentialStore) Clear() error                  { return nil }
