// Package store persists named flows as one JSON document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dgnsrekt/flowrec/internal/flow"
)

// FileName is the document written inside the store directory.
const FileName = "flows.json"

// Store maps flow names to step sequences. Set overwrites; Delete of a missing
// name is a no-op.
type Store struct {
	path string
	mu   sync.RWMutex
}

// New creates a Store rooted at dir and ensures the directory exists.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("flow store: mkdir %s: %w", dir, err)
	}
	return &Store{path: filepath.Join(dir, FileName)}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get returns the steps stored under name.
func (s *Store) Get(name string) (flow.Sequence, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.readLocked()
	if err != nil {
		return nil, false, err
	}
	steps, ok := all[name]
	return steps, ok, nil
}

// Set stores steps under name, replacing any previous flow of that name.
func (s *Store) Set(name string, steps flow.Sequence) error {
	if name == "" {
		return errors.New("flow store: empty name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return err
	}
	all[name] = steps.Clone()
	return s.writeLocked(all)
}

// Delete removes name. A missing name is not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return err
	}
	if _, ok := all[name]; !ok {
		return nil
	}
	delete(all, name)
	return s.writeLocked(all)
}

// ListNames returns the stored names in lexical order.
func (s *Store) ListNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// All returns the full mapping.
func (s *Store) All() (map[string]flow.Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked()
}

func (s *Store) readLocked() (map[string]flow.Sequence, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]flow.Sequence{}, nil
		}
		return nil, fmt.Errorf("flow store: read: %w", err)
	}
	all := map[string]flow.Sequence{}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("flow store: decode %s: %w", s.path, err)
	}
	return all, nil
}

func (s *Store) writeLocked(all map[string]flow.Sequence) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("flow store: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".flows-*.json")
	if err != nil {
		return fmt.Errorf("flow store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("flow store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("flow store: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("flow store: rename: %w", err)
	}
	return nil
}
