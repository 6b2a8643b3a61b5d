package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MemoryStore keeps breaker state in process memory. Used by tests and by
// deployments that accept losing the flag on restart.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore returns an un-tripped in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *MemoryStore) Trip(ctx context.Context, next State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Halted {
		return false, nil
	}
	s.state = next
	return true, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
	return nil
}

// FileStore persists breaker state as a small JSON file, written atomically
// via temp-file rename. Suitable for single-node deployments; multi-node
// deployments should use the Redis store instead.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// read loads the state file. Caller must hold s.mu. A missing file means
// un-tripped.
func (s *FileStore) read() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("breaker state file corrupt: %w", err)
	}
	return st, nil
}

// write replaces the state file atomically. Caller must hold s.mu.
func (s *FileStore) write(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".breaker-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Trip(ctx context.Context, next State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return false, err
	}
	if current.Halted {
		return false, nil
	}
	if err := s.write(next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(State{})
}
