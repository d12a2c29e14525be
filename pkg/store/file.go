package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/bedekelly/twistchat/pkg/model"
)

const fileVersion = 1

// usersFile is the on-disk YAML layout.
type usersFile struct {
	Version int               `yaml:"version"`
	Users   model.Credentials `yaml:"users"`
}

// FileStore keeps the credential mapping in a single YAML file.
type FileStore struct {
	path string
}

// NewFile returns a store backed by the YAML file at path. The file is not
// touched until Load or Save.
func NewFile(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and parses the YAML file.
func (s *FileStore) Load() (model.Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", s.path, err)
	}
	if f.Version > fileVersion {
		return nil, fmt.Errorf("store: %s has unsupported version %d", s.path, f.Version)
	}
	if f.Users == nil {
		f.Users = model.Credentials{}
	}
	return f.Users, nil
}

// Save writes the mapping to a temporary file and renames it over the old
// one, so a crash mid-write leaves the previous version intact.
func (s *FileStore) Save(creds model.Credentials) error {
	if creds == nil {
		creds = model.Credentials{}
	}
	data, err := yaml.Marshal(&usersFile{Version: fileVersion, Users: creds})
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("store: create dir: %w", err)
		}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}
