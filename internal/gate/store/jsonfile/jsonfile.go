// Package jsonfile keeps the access store in a single JSON document on disk.
//
// Writes go to a temp file in the same directory which is synced and then
// renamed over the target, so readers see either the old document or the new
// one and never a truncated file.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
)

const defaultPath = "./gate_data.json"

type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a store backed by path, creating the parent directory. The
// document itself is created on first Save.
func New(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir store dir: %w", err)
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(_ context.Context) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) Save(_ context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(snap)
}

func (s *Store) Update(_ context.Context, fn func(snap *store.Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(&snap); err != nil {
		return err
	}
	return s.write(snap)
}

func (s *Store) read() (store.Snapshot, error) {
	var snap store.Snapshot

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		snap.Normalize()
		return snap, nil
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("%w: read %s: %w", store.ErrUnavailable, s.path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("%w: decode %s: %w", store.ErrUnavailable, s.path, err)
	}
	snap.Normalize()
	return snap, nil
}

func (s *Store) write(snap store.Snapshot) error {
	snap.Normalize()
	data, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", store.ErrUnavailable, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".gate-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", store.ErrUnavailable, err)
	}
	// Removing after a successful rename is a harmless no-op.
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp: %w", store.ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync temp: %w", store.ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp: %w", store.ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: rename into place: %w", store.ErrUnavailable, err)
	}
	syncDir(dir)
	return nil
}

// Encode renders a snapshot exactly as it is stored on disk.
func Encode(snap store.Snapshot) ([]byte, error) {
	snap.Normalize()
	b, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// syncDir flushes the directory entry for the rename. Not every platform
// supports fsync on directories, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
