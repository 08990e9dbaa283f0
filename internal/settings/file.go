package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/mianshi/pkg/types"
)

// FileStore keeps the settings of the local CLI user in a YAML file.
type FileStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	values map[Key]string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path is the backing file.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Get(_ context.Context, key Key) (string, bool, error) {
	if !key.Valid() {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return "", false, err
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *FileStore) Set(_ context.Context, key Key, value string) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	next := make(map[Key]string, len(f.values)+1)
	for k, v := range f.values {
		next[k] = v
	}
	next[key] = value
	if err := f.write(next); err != nil {
		return err
	}
	f.values = next
	return nil
}

func (f *FileStore) load() error {
	if f.loaded {
		return nil
	}
	f.values = make(map[Key]string)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read settings: %v", types.ErrPersistence, err)
	}
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse settings: %v", types.ErrPersistence, err)
	}
	for k, v := range raw {
		if key := Key(k); key.Valid() {
			f.values[key] = v
		}
	}
	f.loaded = true
	return nil
}

func (f *FileStore) write(values map[Key]string) error {
	raw := make(map[string]string, len(values))
	for k, v := range values {
		raw[string(k)] = v
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: encode settings: %v", types.ErrPersistence, err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("%w: create settings dir: %v", types.ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".settings-*")
	if err != nil {
		return fmt.Errorf("%w: write settings: %v", types.ErrPersistence, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("%w: write settings: %v", types.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: write settings: %v", types.ErrPersistence, err)
	}
	if err := os.Chmod(name, 0o600); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: write settings: %v", types.ErrPersistence, err)
	}
	if err := os.Rename(name, f.path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: write settings: %v", types.ErrPersistence, err)
	}
	return nil
}
