package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

// Store is an in-memory AccessStore for tests and throwaway dev runs.
type Store struct {
	mu   sync.Mutex
	snap store.Snapshot
	err  error
}

func New(vehicles ...types.Vehicle) *Store {
	s := &Store{}
	s.snap.Vehicles = append(s.snap.Vehicles, vehicles...)
	s.snap.Normalize()
	return s
}

func (s *Store) Load(_ context.Context) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return store.Snapshot{}, s.err
	}
	return s.snap.Clone(), nil
}

func (s *Store) Save(_ context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.snap = snap.Clone()
	s.snap.Normalize()
	return nil
}

func (s *Store) Update(_ context.Context, fn func(snap *store.Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	next := s.snap.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.Normalize()
	s.snap = next
	return nil
}

// FailWith makes every subsequent call return err. Test-only helper; pass
// nil to recover.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
