package service_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store/memory"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

var fixedNow = time.Date(2026, 10, 18, 9, 30, 15, 0, time.Local)

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

// fakeGate counts triggers and can be made to fail.
type fakeGate struct {
	calls    atomic.Int32
	err      error
	hardware bool
}

func (g *fakeGate) Trigger(context.Context) error {
	g.calls.Add(1)
	return g.err
}

func (g *fakeGate) Hardware() bool { return g.hardware }

// recordingPublisher keeps every published log.
type recordingPublisher struct {
	mu   sync.Mutex
	logs []types.ScanLog
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, l types.ScanLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = append(p.logs, l)
	return p.err
}

func (p *recordingPublisher) published() []types.ScanLog {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.ScanLog(nil), p.logs...)
}

// sequentialIDs hands out "log-0001", "log-0002", ...
func sequentialIDs() func() (string, error) {
	var n atomic.Int64
	return func() (string, error) {
		return fmt.Sprintf("log-%04d", n.Add(1)), nil
	}
}

// commitOrderStore records the head log after each committed Update.
type commitOrderStore struct {
	*memory.Store
	mu     sync.Mutex
	commit []string
}

func (s *commitOrderStore) Update(ctx context.Context, fn func(*store.Snapshot) error) error {
	return s.Store.Update(ctx, func(snap *store.Snapshot) error {
		if err := fn(snap); err != nil {
			return err
		}
		s.mu.Lock()
		s.commit = append(s.commit, snap.Logs[0].ID)
		s.mu.Unlock()
		return nil
	})
}

type ingestFixture struct {
	store *memory.Store
	gate  *fakeGate
	pub   *recordingPublisher
	hook  *test.Hook
	svc   *service.IngestService
}

func newTestIngestService(t *testing.T, vehicles ...types.Vehicle) *ingestFixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	f := &ingestFixture{
		store: memory.New(vehicles...),
		gate:  &fakeGate{},
		pub:   &recordingPublisher{},
		hook:  hook,
	}
	f.svc = service.NewIngestService(f.store, f.gate, service.IngestOptions{
		Logger:    logger,
		Publisher: f.pub,
		Now:       func() time.Time { return fixedNow },
		NewID:     sequentialIDs(),
	})
	return f
}
