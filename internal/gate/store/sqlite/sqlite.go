// Package sqlite is an AccessStore on top of modernc.org/sqlite. Every
// operation, reads included, runs as a job on the db.Worker so callers are
// serialized exactly as they are with the JSON file store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	dbpkg "github.com/BrandonDHaskell/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

type Store struct {
	writer *dbpkg.Worker
}

func New(writer *dbpkg.Worker) *Store {
	return &Store{writer: writer}
}

func (s *Store) Load(ctx context.Context) (store.Snapshot, error) {
	var snap store.Snapshot
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		snap, err = readSnapshot(ctx, tx)
		return err
	})
	if err != nil {
		return store.Snapshot{}, unavailable(err)
	}
	return snap, nil
}

func (s *Store) Save(ctx context.Context, snap store.Snapshot) error {
	snap.Normalize()
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := writeVehicles(ctx, tx, snap.Vehicles); err != nil {
			return err
		}
		return rewriteLogs(ctx, tx, snap.Logs)
	})
	return unavailable(err)
}

// Update loads, applies fn and writes back in a single transaction. When fn
// only prepended logs, just the new rows are inserted.
func (s *Store) Update(ctx context.Context, fn func(snap *store.Snapshot) error) error {
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		before, err := readSnapshot(ctx, tx)
		if err != nil {
			return err
		}
		next := before.Clone()
		if err := fn(&next); err != nil {
			return callerError{err}
		}
		next.Normalize()

		if !sameVehicles(before.Vehicles, next.Vehicles) {
			if err := writeVehicles(ctx, tx, next.Vehicles); err != nil {
				return err
			}
		}
		if added, ok := prepended(before.Logs, next.Logs); ok {
			return insertLogs(ctx, tx, added)
		}
		return rewriteLogs(ctx, tx, next.Logs)
	})
	var ce callerError
	if errors.As(err, &ce) {
		return ce.err
	}
	return unavailable(err)
}

// callerError carries an error returned by an Update fn through the worker
// so it reaches the caller unwrapped.
type callerError struct{ err error }

func (e callerError) Error() string { return e.err.Error() }

// unavailable marks storage failures. Cancellation and deadlines belong to
// the caller and pass through unchanged.
func unavailable(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}

func readSnapshot(ctx context.Context, tx *sql.Tx) (store.Snapshot, error) {
	var snap store.Snapshot

	rows, err := tx.QueryContext(ctx, `
SELECT tag_id, vehicle_no, owner_name, apartment_no, extra
FROM vehicles
ORDER BY position ASC;`)
	if err != nil {
		return snap, fmt.Errorf("query vehicles: %w", err)
	}
	for rows.Next() {
		var (
			v     types.Vehicle
			extra string
		)
		if err := rows.Scan(&v.TagID, &v.VehicleNo, &v.OwnerName, &v.ApartmentNo, &extra); err != nil {
			_ = rows.Close()
			return snap, fmt.Errorf("scan vehicle: %w", err)
		}
		if err := json.Unmarshal([]byte(extra), &v.Extra); err != nil {
			_ = rows.Close()
			return snap, fmt.Errorf("decode extra for %s: %w", v.TagID, err)
		}
		if len(v.Extra) == 0 {
			v.Extra = nil
		}
		snap.Vehicles = append(snap.Vehicles, v)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return snap, fmt.Errorf("iterate vehicles: %w", err)
	}
	_ = rows.Close()

	rows, err = tx.QueryContext(ctx, `
SELECT id, tag_id, vehicle_no, timestamp, direction, status
FROM scan_logs
ORDER BY seq DESC;`)
	if err != nil {
		return snap, fmt.Errorf("query scan_logs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l         types.ScanLog
			direction string
			status    string
		)
		if err := rows.Scan(&l.ID, &l.TagID, &l.VehicleNo, &l.Timestamp, &direction, &status); err != nil {
			return snap, fmt.Errorf("scan log: %w", err)
		}
		l.Direction = types.Direction(direction)
		l.Status = types.AccessStatus(status)
		snap.Logs = append(snap.Logs, l)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate scan_logs: %w", err)
	}

	snap.Normalize()
	return snap, nil
}

func writeVehicles(ctx context.Context, tx *sql.Tx, vehicles []types.Vehicle) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM vehicles;`); err != nil {
		return fmt.Errorf("clear vehicles: %w", err)
	}
	for i, v := range vehicles {
		extra := []byte("{}")
		if len(v.Extra) > 0 {
			var err error
			if extra, err = json.Marshal(v.Extra); err != nil {
				return fmt.Errorf("encode extra for %s: %w", v.TagID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO vehicles(tag_id, vehicle_no, owner_name, apartment_no, extra, position)
VALUES (?, ?, ?, ?, ?, ?);`,
			v.TagID, v.VehicleNo, v.OwnerName, v.ApartmentNo, string(extra), i,
		); err != nil {
			return fmt.Errorf("insert vehicle %s: %w", v.TagID, err)
		}
	}
	return nil
}

func rewriteLogs(ctx context.Context, tx *sql.Tx, logs []types.ScanLog) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_logs;`); err != nil {
		return fmt.Errorf("clear scan_logs: %w", err)
	}
	return insertLogs(ctx, tx, logs)
}

// insertLogs takes logs newest first and inserts them oldest first so that
// seq order matches history order.
func insertLogs(ctx context.Context, tx *sql.Tx, logs []types.ScanLog) error {
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		if _, err := tx.ExecContext(ctx, `
INSERT INTO scan_logs(id, tag_id, vehicle_no, timestamp, direction, status)
VALUES (?, ?, ?, ?, ?, ?);`,
			l.ID, l.TagID, l.VehicleNo, l.Timestamp, string(l.Direction), string(l.Status),
		); err != nil {
			return fmt.Errorf("insert scan log %s: %w", l.ID, err)
		}
	}
	return nil
}

func sameVehicles(a, b []types.Vehicle) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// prepended reports whether next is old with zero or more entries added in
// front, and returns those entries.
func prepended(old, next []types.ScanLog) ([]types.ScanLog, bool) {
	if len(next) < len(old) {
		return nil, false
	}
	offset := len(next) - len(old)
	for i := range old {
		if old[i] != next[offset+i] {
			return nil, false
		}
	}
	return next[:offset], true
}
