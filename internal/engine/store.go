package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrStateMissing is returned by a StateStore that has nothing saved for a device
var ErrStateMissing = errors.New("engine: no persisted state")

// StateStore persists engine states per device
type StateStore interface {
	Load(ctx context.Context, deviceID string) (*EngineState, error)
	Save(ctx context.Context, state *EngineState) error
}

// MemoryStateStore keeps encoded states in memory
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string][]byte)}
}

func (m *MemoryStateStore) Load(_ context.Context, deviceID string) (*EngineState, error) {
	m.mu.RLock()
	data, ok := m.states[deviceID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrStateMissing
	}
	var s EngineState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &s, nil
}

func (m *MemoryStateStore) Save(_ context.Context, state *EngineState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	m.mu.Lock()
	m.states[state.DeviceID] = data
	m.mu.Unlock()
	return nil
}

// FileStateStore writes one JSON file per device into Dir
type FileStateStore struct {
	Dir string
}

func NewFileStateStore(dir string) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateStore{Dir: dir}, nil
}

func (f *FileStateStore) path(deviceID string) (string, error) {
	if deviceID == "" || strings.ContainsAny(deviceID, `/\`) || deviceID == "." || deviceID == ".." {
		return "", fmt.Errorf("invalid device id %q", deviceID)
	}
	return filepath.Join(f.Dir, deviceID+".json"), nil
}

func (f *FileStateStore) Load(_ context.Context, deviceID string) (*EngineState, error) {
	p, err := f.path(deviceID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrStateMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	var s EngineState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &s, nil
}

// Save writes the state atomically through a temporary file
func (f *FileStateStore) Save(_ context.Context, state *EngineState) error {
	p, err := f.path(state.DeviceID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}
