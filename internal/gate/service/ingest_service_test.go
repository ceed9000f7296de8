package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/gatekeeper/internal/actuator"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store/memory"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

// ── ProcessScan: decisions ──

func TestProcessScan_RegisteredTagOpensGateOnce(t *testing.T) {
	f := newTestIngestService(t, types.Vehicle{TagID: "ABC123", VehicleNo: "KA01AB1234"})
	ctx := context.Background()

	got, err := f.svc.ProcessScan(ctx, "ABC123", types.DirectionIn)
	require.NoError(t, err)

	assert.Equal(t, types.StatusAuthorized, got.Status)
	assert.Equal(t, "KA01AB1234", got.VehicleNo)
	assert.Equal(t, types.DirectionIn, got.Direction)
	assert.Equal(t, "2026-10-18 09:30:15", got.Timestamp)
	assert.EqualValues(t, 1, f.gate.calls.Load())

	snap, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, snap.Logs)
	assert.Equal(t, got, snap.Logs[0])
}

func TestProcessScan_UnknownTagIsDeniedWithoutActuation(t *testing.T) {
	f := newTestIngestService(t, types.Vehicle{TagID: "ABC123", VehicleNo: "KA01AB1234"})
	ctx := context.Background()

	got, err := f.svc.ProcessScan(ctx, "XYZ999", types.DirectionOut)
	require.NoError(t, err)

	assert.Equal(t, types.StatusDenied, got.Status)
	assert.Equal(t, types.UnknownVehicleNo, got.VehicleNo)
	assert.Equal(t, types.DirectionOut, got.Direction)
	assert.EqualValues(t, 0, f.gate.calls.Load())

	snap, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, snap.Logs[0])
}

func TestProcessScan_TrimsTag(t *testing.T) {
	f := newTestIngestService(t, types.Vehicle{TagID: "ABC123", VehicleNo: "KA01AB1234"})

	got, err := f.svc.ProcessScan(context.Background(), "  ABC123\r\n", types.DirectionIn)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", got.TagID)
	assert.True(t, got.Authorized())
}

func TestProcessScan_PrependsNewestFirst(t *testing.T) {
	f := newTestIngestService(t)
	ctx := context.Background()

	first, err := f.svc.ProcessScan(ctx, "A", types.DirectionIn)
	require.NoError(t, err)
	second, err := f.svc.ProcessScan(ctx, "B", types.DirectionIn)
	require.NoError(t, err)

	logs, err := f.svc.Logs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, second.ID, logs[0].ID)
	assert.Equal(t, first.ID, logs[1].ID)
}

func TestProcessScan_UsesCurrentRegistry(t *testing.T) {
	f := newTestIngestService(t)
	ctx := context.Background()
	reg := service.NewVehicleRegistry(f.store, quietLogger())

	before, err := f.svc.ProcessScan(ctx, "NEW1", types.DirectionIn)
	require.NoError(t, err)
	_, err = reg.Register(ctx, types.Vehicle{TagID: "NEW1", VehicleNo: "KA02"})
	require.NoError(t, err)
	after, err := f.svc.ProcessScan(ctx, "NEW1", types.DirectionIn)
	require.NoError(t, err)

	assert.Equal(t, types.StatusDenied, before.Status)
	assert.Equal(t, types.StatusAuthorized, after.Status)
	assert.Equal(t, "KA02", after.VehicleNo)
}

// ── ProcessScan: validation ──

func TestProcessScan_RejectsInvalidInput(t *testing.T) {
	f := newTestIngestService(t)
	ctx := context.Background()

	_, err := f.svc.ProcessScan(ctx, "   ", types.DirectionIn)
	assert.ErrorIs(t, err, service.ErrInvalidTagID)

	_, err = f.svc.ProcessScan(ctx, "ABC123", types.Direction("SIDEWAYS"))
	assert.ErrorIs(t, err, service.ErrInvalidDirection)

	_, err = f.svc.ProcessScan(ctx, "ABC123", types.Direction(""))
	assert.ErrorIs(t, err, service.ErrInvalidDirection)

	snap, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Logs)
	assert.Empty(t, f.pub.published())
}

// ── ProcessScan: failures ──

func TestProcessScan_StoreUnavailableFailsWithoutActuation(t *testing.T) {
	f := newTestIngestService(t, types.Vehicle{TagID: "ABC123", VehicleNo: "KA01AB1234"})
	f.store.FailWith(fmt.Errorf("%w: disk gone", store.ErrUnavailable))

	_, err := f.svc.ProcessScan(context.Background(), "ABC123", types.DirectionIn)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.EqualValues(t, 0, f.gate.calls.Load())
	assert.Empty(t, f.pub.published())
}

func TestProcessScan_ActuationFailureStillRecords(t *testing.T) {
	f := newTestIngestService(t, types.Vehicle{TagID: "ABC123", VehicleNo: "KA01AB1234"})
	f.gate.err = errors.New("relay stuck")
	ctx := context.Background()

	got, err := f.svc.ProcessScan(ctx, "ABC123", types.DirectionIn)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAuthorized, got.Status)

	snap, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, snap.Logs[0])

	var sawError bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "gate actuation failed" {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestProcessScan_PublishFailureIsNotFatal(t *testing.T) {
	f := newTestIngestService(t)
	f.pub.err = errors.New("nats down")

	got, err := f.svc.ProcessScan(context.Background(), "XYZ999", types.DirectionIn)
	require.NoError(t, err)
	assert.Equal(t, []types.ScanLog{got}, f.pub.published())
}

// ── ProcessScan: concurrency ──

func TestProcessScan_ConcurrentScansAreAllPersistedInCommitOrder(t *testing.T) {
	const n = 50
	st := &commitOrderStore{Store: memory.New(types.Vehicle{TagID: "ABC123", VehicleNo: "KA01AB1234"})}
	gate := &fakeGate{}
	svc := service.NewIngestService(st, gate, service.IngestOptions{
		Logger: quietLogger(),
		NewID:  sequentialIDs(),
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag := "XYZ999"
			if i%2 == 0 {
				tag = "ABC123"
			}
			_, err := svc.ProcessScan(ctx, tag, types.DirectionIn)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	logs, err := svc.Logs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, n)

	st.mu.Lock()
	commit := append([]string(nil), st.commit...)
	st.mu.Unlock()
	require.Len(t, commit, n)
	for i, l := range logs {
		assert.Equal(t, commit[n-1-i], l.ID)
	}
	assert.EqualValues(t, n/2, gate.calls.Load())
}

// ── Logs ──

func TestLogs_Limit(t *testing.T) {
	f := newTestIngestService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.svc.ProcessScan(ctx, fmt.Sprintf("T%d", i), types.DirectionIn)
		require.NoError(t, err)
	}

	logs, err := f.svc.Logs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "T4", logs[0].TagID)

	all, err := f.svc.Logs(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestLogs_StoreError(t *testing.T) {
	f := newTestIngestService(t)
	f.store.FailWith(store.ErrUnavailable)

	_, err := f.svc.Logs(context.Background(), 0)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

// ── Status ──

func TestStatus(t *testing.T) {
	st := memory.New()
	st.FailWith(store.ErrUnavailable)

	sim := service.NewIngestService(st, actuator.NewSimulated(quietLogger()), service.IngestOptions{Logger: quietLogger()})
	got := sim.Status(context.Background())
	assert.True(t, got.Online)
	assert.False(t, got.HardwareAvailable)
	assert.Equal(t, "disabled", got.ReaderState)

	hw := service.NewIngestService(st, &fakeGate{hardware: true}, service.IngestOptions{
		Logger:      quietLogger(),
		ReaderState: func() string { return "reading" },
		Now:         func() time.Time { return fixedNow },
	})
	got = hw.Status(context.Background())
	assert.True(t, got.HardwareAvailable)
	assert.Equal(t, "reading", got.ReaderState)
	assert.Equal(t, fixedNow.UTC().Format(time.RFC3339), got.ServerTime)
}

func TestNewLogIDsAreUniqueByDefault(t *testing.T) {
	svc := service.NewIngestService(memory.New(), &fakeGate{}, service.IngestOptions{Logger: quietLogger()})
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		l, err := svc.ProcessScan(ctx, "T", types.DirectionIn)
		require.NoError(t, err)
		assert.False(t, seen[l.ID])
		seen[l.ID] = true
	}
}
