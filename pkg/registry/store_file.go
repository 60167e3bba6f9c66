package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const fileStoreVersionV1 = "1"

type fileStoreDocument struct {
	Version  string `json:"version" yaml:"version"`
	Snapshot `yaml:",inline"`
}

// FileStore keeps a Snapshot in one local file, JSON or YAML by extension.
type FileStore struct {
	path   string
	format format
	mu     sync.Mutex
}

// NewFileStore returns a store at path. The file is created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, format: formatFor(path)}
}

// DefaultStorePath returns ~/.toolhub/servers.yaml.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("registry: resolve user home: %w", err)
	}
	return filepath.Join(home, ".toolhub", "servers.yaml"), nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the file. A missing or empty file is an empty Snapshot.
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path is chosen by the operator.
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("registry: read store: %w", err)
	}
	if len(data) == 0 {
		return Snapshot{}, nil
	}
	var doc fileStoreDocument
	if err := decode(s.format, data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("registry: decode store %s: %w", s.path, err)
	}
	if doc.Version != "" && doc.Version != fileStoreVersionV1 {
		return Snapshot{}, fmt.Errorf("registry: unsupported store version %q", doc.Version)
	}
	return doc.Snapshot, nil
}

// Save writes snap to a temp file and renames it over the store.
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encode(s.format, fileStoreDocument{Version: fileStoreVersionV1, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("registry: encode store: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("registry: create store dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("registry: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("registry: replace file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
