package store

import (
	"context"
	"errors"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

// ErrUnavailable marks a backing medium that exists but cannot be read or
// written. It is distinct from "no data yet", which loads as an empty Snapshot.
var ErrUnavailable = errors.New("access store unavailable")

// Snapshot is the complete persisted state. Logs are ordered newest first.
type Snapshot struct {
	Vehicles []types.Vehicle `json:"vehicles"`
	Logs     []types.ScanLog `json:"logs"`
}

// Normalize replaces nil slices with empty ones so an empty store serializes
// as [] rather than null.
func (s *Snapshot) Normalize() {
	if s.Vehicles == nil {
		s.Vehicles = []types.Vehicle{}
	}
	if s.Logs == nil {
		s.Logs = []types.ScanLog{}
	}
}

// Clone returns a deep copy; callers may mutate it freely.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Vehicles: make([]types.Vehicle, len(s.Vehicles)),
		Logs:     make([]types.ScanLog, len(s.Logs)),
	}
	for i, v := range s.Vehicles {
		out.Vehicles[i] = v.Clone()
	}
	copy(out.Logs, s.Logs)
	return out
}

// AccessStore persists vehicles and scan history.
//
// Implementations serialize every Load, Save and Update against each other.
// Update runs fn on a private copy of the current snapshot and commits the
// result atomically; if fn returns an error nothing is written.
type AccessStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Update(ctx context.Context, fn func(snap *Snapshot) error) error
}
