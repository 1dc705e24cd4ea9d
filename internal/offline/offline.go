// Package offline stores Data Source state while it works without its
// transport.
package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/databind/pkg/types"
)

var (
	_ types.OfflineStorage = (*File)(nil)
	_ types.OfflineStorage = (*Memory)(nil)
)

// File keeps the state as one JSON document. Writes replace the file
// atomically, so a crash leaves either the old or the new state.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns storage backed by path. The file is created on the first
// SetItem.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

// GetItem reads the stored state, or nil when nothing was stored yet.
func (f *File) GetItem() (*types.OfflineState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading offline state: %w", err)
	}
	var state types.OfflineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding offline state %s: %w", f.path, err)
	}
	return &state, nil
}

// SetItem replaces the stored state. A nil state removes the file.
func (f *File) SetItem(state *types.OfflineState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state == nil {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing offline state: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding offline state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating offline directory: %w", err)
	}
	if err := writeAtomic(f.path, data); err != nil {
		return err
	}
	glog.V(2).Infof("offline: stored %d records in %s", len(state.Records), f.path)
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".offline-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(fmt.Errorf("writing offline state: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Memory keeps the state in process. Stored states are copied through JSON
// so later edits by the caller do not leak in.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory returns empty in-process storage.
func NewMemory() *Memory { return &Memory{} }

// GetItem returns a copy of the stored state, or nil.
func (m *Memory) GetItem() (*types.OfflineState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	var state types.OfflineState
	if err := json.Unmarshal(m.data, &state); err != nil {
		return nil, fmt.Errorf("decoding offline state: %w", err)
	}
	return &state, nil
}

// SetItem replaces the stored state. A nil state clears it.
func (m *Memory) SetItem(state *types.OfflineState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == nil {
		m.data = nil
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding offline state: %w", err)
	}
	m.data = data
	return nil
}
