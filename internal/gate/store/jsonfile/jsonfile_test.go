package jsonfile_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store/jsonfile"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

func newTestStore(t *testing.T) *jsonfile.Store {
	t.Helper()
	st, err := jsonfile.New(filepath.Join(t.TempDir(), "gate_data.json"))
	require.NoError(t, err)
	return st
}

func sampleSnapshot() store.Snapshot {
	return store.Snapshot{
		Vehicles: []types.Vehicle{
			{TagID: "ABC123", VehicleNo: "KA01AB1234"},
			{TagID: "FT87654321", VehicleNo: "KA-05-NB-5678", OwnerName: "Priya Sharma", ApartmentNo: "B-205"},
		},
		Logs: []types.ScanLog{
			{ID: "2", TagID: "ABC123", VehicleNo: "KA01AB1234", Timestamp: "2026-10-18 09:00:01", Direction: types.DirectionIn, Status: types.StatusAuthorized},
			{ID: "1", TagID: "XYZ999", VehicleNo: types.UnknownVehicleNo, Timestamp: "2026-10-18 08:59:00", Direction: types.DirectionOut, Status: types.StatusDenied},
		},
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	st := newTestStore(t)

	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Vehicles)
	assert.Empty(t, snap.Logs)
	assert.NotNil(t, snap.Vehicles)
	assert.NotNil(t, snap.Logs)
}

func TestLoad_CorruptFileIsUnavailable(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, os.WriteFile(st.Path(), []byte(`{"vehicles": [`), 0o644))

	_, err := st.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestLoad_EmptyFileIsUnavailable(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, os.WriteFile(st.Path(), nil, 0o644))

	_, err := st.Load(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestUpdate_CorruptFileIsNotOverwritten(t *testing.T) {
	st := newTestStore(t)
	garbage := []byte("not json")
	require.NoError(t, os.WriteFile(st.Path(), garbage, 0o644))

	err := st.Update(context.Background(), func(s *store.Snapshot) error {
		s.Logs = append(s.Logs, types.ScanLog{ID: "x"})
		return nil
	})
	require.ErrorIs(t, err, store.ErrUnavailable)

	b, err := os.ReadFile(st.Path())
	require.NoError(t, err)
	assert.Equal(t, garbage, b)
}

func TestSaveLoad_RoundTripIsByteIdentical(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleSnapshot()))
	first, err := os.ReadFile(st.Path())
	require.NoError(t, err)

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), snap)

	require.NoError(t, st.Save(ctx, snap))
	second, err := os.ReadFile(st.Path())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

// dashboardDocument is a data file whose vehicles carry fields the gate does
// not use. It is laid out exactly as Encode writes it.
const dashboardDocument = `{
    "vehicles": [
        {
            "tagId": "ABC123",
            "vehicleNo": "KA01AB1234",
            "ownerName": "Rahul Kumar",
            "id": "v1",
            "lastEntry": {
                "at": "2026-10-18 09:00:01",
                "gate": 2
            }
        },
        {
            "tagId": "XYZ999",
            "vehicleNo": "KA02CD5678",
            "id": "v2",
            "lastEntry": null
        }
    ],
    "logs": []
}
`

func TestSaveLoad_ExtraVehicleFieldsRoundTripByteIdentical(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(st.Path(), []byte(dashboardDocument), 0o644))

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Vehicles, 2)
	assert.JSONEq(t, `"v1"`, string(snap.Vehicles[0].Extra["id"]))
	assert.JSONEq(t, `null`, string(snap.Vehicles[1].Extra["lastEntry"]))

	require.NoError(t, st.Save(ctx, snap))
	b, err := os.ReadFile(st.Path())
	require.NoError(t, err)
	assert.Equal(t, dashboardDocument, string(b))
}

func TestUpdate_KeepsExtraVehicleFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	// Compact and unordered: kept by value, not by layout.
	doc := `{"logs":[],"vehicles":[{"lastEntry":"2026-10-18","id":"v1","vehicleNo":"KA01AB1234","tagId":"ABC123"}]}`
	require.NoError(t, os.WriteFile(st.Path(), []byte(doc), 0o644))

	err := st.Update(ctx, func(s *store.Snapshot) error {
		s.Logs = append(s.Logs, types.ScanLog{ID: "1", TagID: "ABC123", VehicleNo: "KA01AB1234",
			Timestamp: "2026-10-18 09:00:01", Direction: types.DirectionIn, Status: types.StatusAuthorized})
		return nil
	})
	require.NoError(t, err)

	b, err := os.ReadFile(st.Path())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"id": "v1"`)
	assert.Contains(t, string(b), `"lastEntry": "2026-10-18"`)

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Vehicles, 1)
	assert.Equal(t, "ABC123", snap.Vehicles[0].TagID)
	assert.Len(t, snap.Vehicles[0].Extra, 2)
	assert.Len(t, snap.Logs, 1)
}

func TestSave_EmptySnapshotWritesArrays(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Save(context.Background(), store.Snapshot{}))

	b, err := os.ReadFile(st.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"vehicles":[],"logs":[]}`, string(b))
}

func TestSave_UsesPersistedFieldNames(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Save(context.Background(), sampleSnapshot()))

	b, err := os.ReadFile(st.Path())
	require.NoError(t, err)
	for _, key := range []string{`"tagId"`, `"vehicleNo"`, `"timestamp"`, `"direction"`, `"status"`} {
		assert.Contains(t, string(b), key)
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Save(ctx, sampleSnapshot()))
	}

	entries, err := os.ReadDir(filepath.Dir(st.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gate_data.json", entries[0].Name())
}

func TestUpdate_ErrorFromFnWritesNothing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, sampleSnapshot()))

	err := st.Update(ctx, func(s *store.Snapshot) error {
		s.Logs = nil
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Logs, 2)
}

func TestUpdate_ConcurrentPrependsAreNotLost(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	const n = 40

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := st.Update(ctx, func(s *store.Snapshot) error {
				s.Logs = append([]types.ScanLog{{ID: fmt.Sprintf("log-%02d", i)}}, s.Logs...)
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Logs, n)

	seen := make(map[string]bool, n)
	for _, l := range snap.Logs {
		assert.False(t, seen[l.ID], "duplicate %s", l.ID)
		seen[l.ID] = true
	}
}
