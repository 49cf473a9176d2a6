package lwm2m

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v2"
)

// FileStorage keeps the stored server in a YAML file.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

// NewFileStorage creates a storage backed by the file at path. The file is
// created on the first Save.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the backing file path.
func (f *FileStorage) Path() string {
	return f.path
}

// Load reads the stored server. A missing or empty file yields nil.
func (f *FileStorage) Load() (*StoredServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lwm2m: read storage: %w", err)
	}

	var s StoredServer
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("lwm2m: decode storage: %w", err)
	}
	if s.ServerHost == "" {
		return nil, nil
	}
	return &s, nil
}

// Save writes s atomically. A nil server truncates the record.
func (f *FileStorage) Save(s *StoredServer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s == nil {
		s = &StoredServer{}
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("lwm2m: encode storage: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("lwm2m: write storage: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("lwm2m: write storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("lwm2m: write storage: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("lwm2m: write storage: %w", err)
	}
	return nil
}

var _ Storage = (*FileStorage)(nil)
